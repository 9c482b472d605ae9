package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var errIdle = errors.New("connection idle")

type WSHandleConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	IdleTimeout  time.Duration
}

func DefaultWSHandleConfig() WSHandleConfig {
	return WSHandleConfig{
		SendBuffer:   16,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
}

// WSHandle is a Handle backed by a websocket connection. Messages queue
// into a bounded buffer drained by a writer goroutine; a reader goroutine
// consumes pongs and client frames and notices disconnects. Whichever side
// fails first closes the handle and triggers onClose exactly once. Only the
// writer goroutine writes to or closes the connection, so closing a handle
// never waits on a stalled write.
type WSHandle struct {
	id      string
	conn    *websocket.Conn
	clock   clockwork.Clock
	cfg     WSHandleConfig
	onClose func(Handle)

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// unix nanos of the last pong or client frame
	lastActivity atomic.Int64
	closeErr     atomic.Value
}

func NewWSHandle(conn *websocket.Conn, clock clockwork.Clock, cfg WSHandleConfig, onClose func(Handle)) *WSHandle {
	h := &WSHandle{
		id:      uuid.New().String(),
		conn:    conn,
		clock:   clock,
		cfg:     cfg,
		onClose: onClose,
		sendCh:  make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	h.touch()
	h.conn.SetPongHandler(func(string) error {
		h.touch()
		return h.conn.SetReadDeadline(h.clock.Now().Add(h.cfg.PongTimeout))
	})
	h.wg.Add(2)
	go h.writeLoop()
	go h.readLoop()
	return h
}

func (h *WSHandle) ID() string {
	return h.id
}

func (h *WSHandle) Send(msg []byte) error {
	select {
	case <-h.done:
		return ErrHandleClosed
	default:
	}
	select {
	case h.sendCh <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the handle closed and returns immediately. The writer
// goroutine sends the close frame and tears the connection down. It is safe
// to call more than once and from any goroutine.
func (h *WSHandle) Close() error {
	h.shutdown(nil)
	return nil
}

// Done is closed once the handle has shut down.
func (h *WSHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until both connection goroutines have exited.
func (h *WSHandle) Wait() {
	h.wg.Wait()
}

// Err returns what ended the connection, or nil for an explicit Close.
func (h *WSHandle) Err() error {
	if err, ok := h.closeErr.Load().(error); ok {
		return err
	}
	return nil
}

func (h *WSHandle) shutdown(reason error) {
	h.closeOnce.Do(func() {
		if reason != nil {
			h.closeErr.Store(reason)
		}
		close(h.done)
		if h.onClose != nil {
			h.onClose(h)
		}
	})
}

func (h *WSHandle) touch() {
	h.lastActivity.Store(h.clock.Now().UnixNano())
}

func (h *WSHandle) idleFor() time.Duration {
	return h.clock.Now().Sub(time.Unix(0, h.lastActivity.Load()))
}

func (h *WSHandle) writeLoop() {
	defer h.wg.Done()
	defer h.closeConn()
	ticker := h.clock.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		default:
		}

		select {
		case msg := <-h.sendCh:
			_ = h.conn.SetWriteDeadline(h.clock.Now().Add(h.cfg.WriteTimeout))
			if err := h.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.shutdown(err)
				return
			}
		case <-ticker.Chan():
			if h.idleFor() >= h.cfg.IdleTimeout {
				h.shutdown(errIdle)
				return
			}
			deadline := h.clock.Now().Add(h.cfg.WriteTimeout)
			if err := h.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.shutdown(err)
				return
			}
		case <-h.done:
			return
		}
	}
}

// closeConn sends a best effort close frame and closes the connection, which
// also unblocks the reader goroutine.
func (h *WSHandle) closeConn() {
	deadline := h.clock.Now().Add(h.cfg.WriteTimeout)
	_ = h.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = h.conn.Close()
}

func (h *WSHandle) readLoop() {
	defer h.wg.Done()
	_ = h.conn.SetReadDeadline(h.clock.Now().Add(h.cfg.PongTimeout))
	for {
		if _, _, err := h.conn.ReadMessage(); err != nil {
			h.shutdown(err)
			return
		}
		h.touch()
	}
}
