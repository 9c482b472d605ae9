package syncer

import (
	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"go.uber.org/zap"
)

// State is a step in the life of a single write.
//
//	Received -> Storing -> Committed -> Broadcasting -> Done
//	Received | Storing -> Failed
type State int

const (
	StateReceived State = iota
	StateStoring
	StateCommitted
	StateBroadcasting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateStoring:
		return "storing"
	case StateCommitted:
		return "committed"
	case StateBroadcasting:
		return "broadcasting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type write struct {
	op      string
	state   State
	log     *logger.Logger
	metrics *metrics.Metrics
}

func (w *write) advance(to State) {
	w.log.Debug("write state",
		zap.Stringer("from", w.state),
		zap.Stringer("to", to),
	)
	w.state = to
}

func (w *write) done(outcome string) {
	w.advance(StateDone)
	w.count(outcome)
}

func (w *write) fail(err error, outcome string) {
	w.advance(StateFailed)
	w.count(outcome)
	if outcome == "invalid" {
		w.log.Info("write rejected", zap.Error(err))
		return
	}
	w.log.Error("write failed", err)
}

func (w *write) count(outcome string) {
	if w.metrics != nil {
		w.metrics.WriteOutcomes.WithLabelValues(w.op, outcome).Inc()
	}
}
