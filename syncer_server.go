package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/breez/quiz-sync/config"
	"github.com/breez/quiz-sync/events"
	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/breez/quiz-sync/middleware"
	"github.com/breez/quiz-sync/store"
	"github.com/breez/quiz-sync/syncer"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const maxBodySize = "50M"

type writeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

type readResponse struct {
	Success bool                   `json:"success"`
	Data    []store.QuizBankRecord `json:"data"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	Subscribers int    `json:"subscribers"`
}

type QuizSyncServer struct {
	config      *config.Config
	coordinator *syncer.Coordinator
	registry    *events.Registry
	clock       clockwork.Clock
	log         *logger.Logger
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	upgrader    websocket.Upgrader
	wsConfig    events.WSHandleConfig
}

func NewQuizSyncServer(
	config *config.Config,
	coordinator *syncer.Coordinator,
	registry *events.Registry,
	clock clockwork.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *QuizSyncServer {
	wsConfig := events.DefaultWSHandleConfig()
	wsConfig.SendBuffer = config.WSSendBuffer
	wsConfig.WriteTimeout = config.WSWriteTimeout
	wsConfig.IdleTimeout = config.WSIdleTimeout

	return &QuizSyncServer{
		config:      config,
		coordinator: coordinator,
		registry:    registry,
		clock:       clock,
		log:         log.With(zap.String("component", "http")),
		metrics:     m,
		gatherer:    gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Any origin may subscribe, as any origin may call the HTTP API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		wsConfig: wsConfig,
	}
}

// Handler returns the HTTP API with CORS enabled for every origin.
func (s *QuizSyncServer) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID(), middleware.RequestLogger(s.log), middleware.Metrics(s.metrics))
	e.Use(echomw.BodyLimit(maxBodySize))

	e.GET("/health", s.health)
	e.GET("/getBank", s.getBank)
	e.POST("/saveBank", s.saveBank)
	e.DELETE("/deleteBank/:id", s.deleteBank)
	e.GET("/ws", s.subscribe)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	return cors.AllowAll().Handler(e)
}

func (s *QuizSyncServer) health(c echo.Context) error {
	if err := s.coordinator.Ping(c.Request().Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, healthResponse{
			Status:      "error",
			Error:       err.Error(),
			Subscribers: s.registry.Len(),
		})
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Message:     "quiz sync service is running",
		Subscribers: s.registry.Len(),
	})
}

func (s *QuizSyncServer) getBank(c echo.Context) error {
	ctx := c.Request().Context()
	var records []store.QuizBankRecord
	var err error
	if difficulty := c.QueryParam("difficulty"); difficulty != "" {
		records, err = s.coordinator.ListBanksByDifficulty(ctx, difficulty)
	} else {
		records, err = s.coordinator.ListBanks(ctx)
	}
	if err != nil {
		s.log.Error("failed to list banks", err)
		return c.JSON(http.StatusInternalServerError, writeResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, readResponse{Success: true, Data: records})
}

func (s *QuizSyncServer) saveBank(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return c.JSON(http.StatusBadRequest, writeResponse{Error: "failed to read request body"})
	}
	records, err := syncer.DecodeReplacePayload(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, writeResponse{Error: err.Error()})
	}

	count, err := s.coordinator.SubmitReplace(c.Request().Context(), records)
	if err != nil {
		return c.JSON(writeErrorStatus(err), writeResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, writeResponse{
		Success: true,
		Message: fmt.Sprintf("saved %v records", count),
		Count:   &count,
	})
}

func (s *QuizSyncServer) deleteBank(c echo.Context) error {
	id := c.Param("id")
	outcome, err := s.coordinator.SubmitDelete(c.Request().Context(), id)
	if err != nil {
		return c.JSON(writeErrorStatus(err), writeResponse{Error: err.Error()})
	}
	if outcome == syncer.NotFound {
		return c.JSON(http.StatusNotFound, writeResponse{Error: fmt.Sprintf("quiz bank %v not found", id)})
	}
	return c.JSON(http.StatusOK, writeResponse{Success: true, Message: "quiz bank deleted"})
}

func (s *QuizSyncServer) subscribe(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}

	h := events.NewWSHandle(conn, s.clock, s.wsConfig, func(h events.Handle) {
		if s.registry.Unregister(h) {
			s.log.Debug("subscriber left", zap.String("handle", h.ID()))
		}
	})
	s.registry.Register(h)
	// A connection that dropped before Register ran has already fired its
	// onClose, so remove it here.
	select {
	case <-h.Done():
		s.registry.Unregister(h)
	default:
		s.log.Debug("subscriber joined", zap.String("handle", h.ID()), zap.Int("subscribers", s.registry.Len()))
	}
	return nil
}

func writeErrorStatus(err error) int {
	var validationErr *syncer.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
