package store

import (
	"context"
	"encoding/json"
	"time"
)

// QuizBankRecord is one persisted quiz bank. Questions is stored and
// returned verbatim; the store never looks inside it.
type QuizBankRecord struct {
	Id         string          `json:"id"`
	FileName   string          `json:"fileName"`
	Timestamp  int64           `json:"timestamp"`
	Difficulty string          `json:"difficulty"`
	Questions  json.RawMessage `json:"questions"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// SyncStorage is implemented by every storage engine.
//
// ReplaceAll swaps the whole record set inside one transaction and either
// commits every record or none of them. FetchAll and FetchByDifficulty only
// ever observe committed data and return records ordered by timestamp,
// newest first. DeleteOne reports false when no record matched.
type SyncStorage interface {
	ReplaceAll(ctx context.Context, records []QuizBankRecord) (int, error)
	DeleteOne(ctx context.Context, id string) (bool, error)
	FetchAll(ctx context.Context) ([]QuizBankRecord, error)
	FetchByDifficulty(ctx context.Context, difficulty string) ([]QuizBankRecord, error)
	Ping(ctx context.Context) error
	Close() error
}
