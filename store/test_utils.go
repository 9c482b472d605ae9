package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// StoreTest holds the behaviour every SyncStorage engine must share. Engine
// packages run each method against their own storage instance.
type StoreTest struct{}

func testRecord(id string, timestamp int64, difficulty string) QuizBankRecord {
	return QuizBankRecord{
		Id:         id,
		FileName:   "file-" + id,
		Timestamp:  timestamp,
		Difficulty: difficulty,
		Questions:  json.RawMessage(fmt.Sprintf(`[{"q":"question for %v","options":["a","b"],"answer":0}]`, id)),
	}
}

func reset(t *testing.T, storage SyncStorage) {
	t.Helper()
	_, err := storage.ReplaceAll(context.Background(), nil)
	require.NoError(t, err, "failed to reset storage")
}

// RequireSameRecords compares records ignoring the store-assigned timestamps
// and any formatting differences in the questions payload.
func RequireSameRecords(t *testing.T, expected, actual []QuizBankRecord) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		require.Equal(t, expected[i].Id, actual[i].Id, "record %v id", i)
		require.Equal(t, expected[i].FileName, actual[i].FileName, "record %v fileName", i)
		require.Equal(t, expected[i].Timestamp, actual[i].Timestamp, "record %v timestamp", i)
		require.Equal(t, expected[i].Difficulty, actual[i].Difficulty, "record %v difficulty", i)
		require.JSONEq(t, string(expected[i].Questions), string(actual[i].Questions), "record %v questions", i)
	}
}

func (s *StoreTest) TestReplaceAndFetch(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	a := testRecord("a", 100, "easy")
	b := testRecord("b", 300, "hard")
	c := testRecord("c", 200, "easy")
	count, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{a, b, c})
	require.NoError(t, err, "failed to call ReplaceAll")
	require.Equal(t, 3, count)

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	RequireSameRecords(t, []QuizBankRecord{b, c, a}, records)
	for _, r := range records {
		require.False(t, r.CreatedAt.IsZero(), "createdAt should be assigned")
		require.False(t, r.UpdatedAt.IsZero(), "updatedAt should be assigned")
	}
}

func (s *StoreTest) TestReplaceOverwrites(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	_, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{
		testRecord("a", 1, "easy"),
		testRecord("b", 2, "easy"),
	})
	require.NoError(t, err, "failed to call ReplaceAll")

	next := []QuizBankRecord{testRecord("b", 5, "hard"), testRecord("c", 4, "medium")}
	count, err := storage.ReplaceAll(context.Background(), next)
	require.NoError(t, err, "failed to call ReplaceAll")
	require.Equal(t, 2, count)

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	RequireSameRecords(t, next, records)
}

func (s *StoreTest) TestReplaceEmpty(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	_, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{testRecord("a", 1, "easy")})
	require.NoError(t, err, "failed to call ReplaceAll")

	count, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{})
	require.NoError(t, err, "failed to call ReplaceAll with empty list")
	require.Equal(t, 0, count)

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	require.Empty(t, records)
}

func (s *StoreTest) TestReplaceRollback(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	previous := []QuizBankRecord{testRecord("x", 10, "easy"), testRecord("y", 9, "hard")}
	_, err := storage.ReplaceAll(context.Background(), previous)
	require.NoError(t, err, "failed to call ReplaceAll")

	_, err = storage.ReplaceAll(context.Background(), []QuizBankRecord{
		testRecord("a", 1, "easy"),
		testRecord("b", 2, "easy"),
		testRecord("a", 3, "hard"),
	})
	require.Error(t, err, "duplicate ids should fail the replace")

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	RequireSameRecords(t, previous, records)
}

func (s *StoreTest) TestReplaceRollbackOnEmptyStore(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	_, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{
		testRecord("a", 1, "easy"),
		testRecord("a", 2, "easy"),
	})
	require.Error(t, err, "duplicate ids should fail the replace")

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	require.Empty(t, records)
}

func (s *StoreTest) TestDeleteOne(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	_, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{
		testRecord("a", 1, "easy"),
		testRecord("b", 2, "easy"),
	})
	require.NoError(t, err, "failed to call ReplaceAll")

	deleted, err := storage.DeleteOne(context.Background(), "a")
	require.NoError(t, err, "failed to call DeleteOne")
	require.True(t, deleted)

	deleted, err = storage.DeleteOne(context.Background(), "a")
	require.NoError(t, err, "deleting a missing record is not an error")
	require.False(t, deleted)

	deleted, err = storage.DeleteOne(context.Background(), uuid.New().String())
	require.NoError(t, err, "deleting a missing record is not an error")
	require.False(t, deleted)

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	RequireSameRecords(t, []QuizBankRecord{testRecord("b", 2, "easy")}, records)
}

func (s *StoreTest) TestFetchByDifficulty(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	_, err := storage.ReplaceAll(context.Background(), []QuizBankRecord{
		testRecord("a", 1, "easy"),
		testRecord("b", 2, "hard"),
		testRecord("c", 3, "easy"),
	})
	require.NoError(t, err, "failed to call ReplaceAll")

	records, err := storage.FetchByDifficulty(context.Background(), "easy")
	require.NoError(t, err, "failed to call FetchByDifficulty")
	RequireSameRecords(t, []QuizBankRecord{testRecord("c", 3, "easy"), testRecord("a", 1, "easy")}, records)

	records, err = storage.FetchByDifficulty(context.Background(), "impossible")
	require.NoError(t, err, "failed to call FetchByDifficulty")
	require.Empty(t, records)
}

// TestConcurrentReads replaces the dataset repeatedly while readers poll it.
// Every replace writes exactly setSize records, so a reader that sees any
// other size has observed a partially applied transaction.
func (s *StoreTest) TestConcurrentReads(t *testing.T, storage SyncStorage) {
	reset(t, storage)

	const setSize = 25
	const rounds = 10
	makeSet := func(round int) []QuizBankRecord {
		set := make([]QuizBankRecord, setSize)
		for i := range set {
			set[i] = testRecord(fmt.Sprintf("r%v-%v", round, i), int64(i), "easy")
		}
		return set
	}
	_, err := storage.ReplaceAll(context.Background(), makeSet(0))
	require.NoError(t, err, "failed to call ReplaceAll")

	done := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				records, err := storage.FetchAll(context.Background())
				if err != nil {
					errs <- err
					return
				}
				if len(records) != setSize {
					errs <- fmt.Errorf("reader observed %v records", len(records))
					return
				}
			}
		}()
	}

	for round := 1; round <= rounds; round++ {
		_, err := storage.ReplaceAll(context.Background(), makeSet(round))
		require.NoError(t, err, "failed to call ReplaceAll round %v", round)
	}
	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
