package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/breez/quiz-sync/events"
	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/breez/quiz-sync/store"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Publisher broadcasts a committed change to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event events.SyncEvent) int
}

// Coordinator runs every write as persist-then-broadcast: the change is
// committed first and only a successful commit produces an event. Reads go
// straight to storage and only ever see committed data.
type Coordinator struct {
	storage   store.SyncStorage
	publisher Publisher
	log       *logger.Logger
	metrics   *metrics.Metrics
}

func NewCoordinator(storage store.SyncStorage, publisher Publisher, log *logger.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		storage:   storage,
		publisher: publisher,
		log:       log.With(zap.String("component", "coordinator")),
		metrics:   m,
	}
}

// SubmitReplace validates records, swaps them in as the whole dataset and
// broadcasts dataUpdated with the stored count. Validation failures are
// returned as *ValidationError, storage failures as *StoreError; in both
// cases nothing is broadcast.
func (c *Coordinator) SubmitReplace(ctx context.Context, records []store.QuizBankRecord) (int, error) {
	w := c.begin("replace", zap.Int("records", len(records)))
	if err := ValidateRecords(records); err != nil {
		w.fail(err, "invalid")
		return 0, err
	}

	w.advance(StateStoring)
	start := time.Now()
	count, err := c.storage.ReplaceAll(ctx, records)
	if c.metrics != nil {
		c.metrics.ReplaceDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		storeErr := &StoreError{Op: "replace", Err: err}
		w.fail(storeErr, "store_error")
		return 0, storeErr
	}
	w.advance(StateCommitted)
	if c.metrics != nil {
		c.metrics.DatasetSize.Set(float64(count))
	}

	c.broadcast(ctx, w, events.DataUpdated(count))
	w.done("ok")
	return count, nil
}

// SubmitDelete removes the record with id. Only an actual removal is
// broadcast; a missing id reports NotFound.
func (c *Coordinator) SubmitDelete(ctx context.Context, id string) (DeleteOutcome, error) {
	w := c.begin("delete", zap.String("id", id))
	if id == "" {
		err := &ValidationError{Index: -1, Field: "id", Reason: "is required"}
		w.fail(err, "invalid")
		return NotFound, err
	}

	w.advance(StateStoring)
	deleted, err := c.storage.DeleteOne(ctx, id)
	if err != nil {
		storeErr := &StoreError{Op: "delete", Err: err}
		w.fail(storeErr, "store_error")
		return NotFound, storeErr
	}
	if !deleted {
		w.done(NotFound.String())
		return NotFound, nil
	}
	w.advance(StateCommitted)
	if c.metrics != nil {
		c.metrics.DatasetSize.Dec()
	}

	c.broadcast(ctx, w, events.DataDeleted(id))
	w.done("ok")
	return Deleted, nil
}

// ListBanks returns the committed dataset, newest first.
func (c *Coordinator) ListBanks(ctx context.Context) ([]store.QuizBankRecord, error) {
	records, err := c.storage.FetchAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return c.checkQuestions(records)
}

// ListBanksByDifficulty returns the committed records tagged difficulty,
// newest first.
func (c *Coordinator) ListBanksByDifficulty(ctx context.Context, difficulty string) ([]store.QuizBankRecord, error) {
	records, err := c.storage.FetchByDifficulty(ctx, difficulty)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return c.checkQuestions(records)
}

// Questions go back to readers as structured JSON, so a stored payload that
// no longer parses fails the read instead of corrupting the response.
func (c *Coordinator) checkQuestions(records []store.QuizBankRecord) ([]store.QuizBankRecord, error) {
	for _, r := range records {
		if !json.Valid(r.Questions) {
			return nil, &StoreError{Op: "list", Err: fmt.Errorf("record %v has malformed questions", r.Id)}
		}
	}
	return records, nil
}

// Ping reports whether storage is reachable.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.storage.Ping(ctx)
}

// broadcast never fails the write it follows: the change is already
// committed, so a publisher panic is logged and swallowed.
func (c *Coordinator) broadcast(ctx context.Context, w *write, event events.SyncEvent) {
	w.advance(StateBroadcasting)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("broadcast panicked", fmt.Errorf("%v", r), zap.String("kind", string(event.Kind)))
		}
	}()
	delivered := c.publisher.Publish(ctx, event)
	c.log.Debug("broadcast finished", zap.String("kind", string(event.Kind)), zap.Int("delivered", delivered))
}

func (c *Coordinator) begin(op string, fields ...zap.Field) *write {
	w := &write{
		op:      op,
		state:   StateReceived,
		log:     c.log.With(append(fields, zap.String("op", op))...),
		metrics: c.metrics,
	}
	w.log.Debug("write received")
	return w
}
