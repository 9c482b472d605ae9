package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/breez/quiz-sync/store"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, name string) *SQLiteSyncStorage {
	t.Helper()
	storage, err := NewSQLiteSyncStorage(fmt.Sprintf("file:%v?mode=memory&cache=shared", name), 5*time.Second)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestReplaceAndFetch(t *testing.T) {
	(&store.StoreTest{}).TestReplaceAndFetch(t, newTestStorage(t, "testreplaceandfetch"))
}

func TestReplaceOverwrites(t *testing.T) {
	(&store.StoreTest{}).TestReplaceOverwrites(t, newTestStorage(t, "testreplaceoverwrites"))
}

func TestReplaceEmpty(t *testing.T) {
	(&store.StoreTest{}).TestReplaceEmpty(t, newTestStorage(t, "testreplaceempty"))
}

func TestReplaceRollback(t *testing.T) {
	(&store.StoreTest{}).TestReplaceRollback(t, newTestStorage(t, "testreplacerollback"))
}

func TestReplaceRollbackOnEmptyStore(t *testing.T) {
	(&store.StoreTest{}).TestReplaceRollbackOnEmptyStore(t, newTestStorage(t, "testreplacerollbackempty"))
}

func TestDeleteOne(t *testing.T) {
	(&store.StoreTest{}).TestDeleteOne(t, newTestStorage(t, "testdeleteone"))
}

func TestFetchByDifficulty(t *testing.T) {
	(&store.StoreTest{}).TestFetchByDifficulty(t, newTestStorage(t, "testfetchbydifficulty"))
}

func TestConcurrentReads(t *testing.T) {
	(&store.StoreTest{}).TestConcurrentReads(t, newTestStorage(t, "testconcurrentreads"))
}

func TestReopenKeepsData(t *testing.T) {
	file := t.TempDir() + "/quiz.db"
	storage, err := NewSQLiteSyncStorage(file, time.Second)
	require.NoError(t, err, "failed to connect")
	_, err = storage.ReplaceAll(context.Background(), []store.QuizBankRecord{{
		Id: "a", FileName: "f1", Timestamp: 100, Difficulty: "easy", Questions: json.RawMessage(`[{"q":"1+1"}]`),
	}})
	require.NoError(t, err, "failed to call ReplaceAll")
	require.NoError(t, storage.Close())

	storage, err = NewSQLiteSyncStorage(file, time.Second)
	require.NoError(t, err, "failed to reopen")
	defer storage.Close()
	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "failed to call FetchAll")
	require.Len(t, records, 1)
	require.Equal(t, "a", records[0].Id)
	require.JSONEq(t, `[{"q":"1+1"}]`, string(records[0].Questions))
}

func TestAcquireTimeout(t *testing.T) {
	storage := newTestStorage(t, "testacquiretimeout")
	storage.acquireTimeout = 50 * time.Millisecond

	held, err := storage.db.Conn(context.Background())
	require.NoError(t, err, "failed to take the only connection")
	defer held.Close()

	_, err = storage.FetchAll(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = storage.ReplaceAll(context.Background(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Replacing with any set of distinct ids and reading it back yields the same
// records ordered by timestamp descending, whatever order they were given in.
func TestReplaceFetchProperty(t *testing.T) {
	storage := newTestStorage(t, "testreplacefetchproperty")
	properties := gopter.NewProperties(nil)

	properties.Property("fetch returns the replaced set newest first", prop.ForAll(
		func(timestamps []int64) bool {
			input := make([]store.QuizBankRecord, len(timestamps))
			for i, ts := range timestamps {
				input[i] = store.QuizBankRecord{
					Id:         fmt.Sprintf("id-%03d", i),
					FileName:   fmt.Sprintf("file-%v", i),
					Timestamp:  ts,
					Difficulty: "easy",
					Questions:  json.RawMessage(fmt.Sprintf(`{"n":%v,"items":[1,2,3]}`, i)),
				}
			}
			count, err := storage.ReplaceAll(context.Background(), input)
			if err != nil || count != len(input) {
				return false
			}
			records, err := storage.FetchAll(context.Background())
			if err != nil || len(records) != len(input) {
				return false
			}

			expected := append([]store.QuizBankRecord(nil), input...)
			sort.SliceStable(expected, func(i, j int) bool {
				if expected[i].Timestamp != expected[j].Timestamp {
					return expected[i].Timestamp > expected[j].Timestamp
				}
				return expected[i].Id < expected[j].Id
			})
			for i := range expected {
				if records[i].Id != expected[i].Id ||
					records[i].Timestamp != expected[i].Timestamp ||
					records[i].FileName != expected[i].FileName ||
					string(records[i].Questions) != string(expected[i].Questions) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1_000)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestReadsSeeLastCommitDuringReplace(t *testing.T) {
	storage, err := NewSQLiteSyncStorage(t.TempDir()+"/quiz.db", 200*time.Millisecond)
	require.NoError(t, err, "failed to connect")
	defer storage.Close()
	_, err = storage.ReplaceAll(context.Background(), []store.QuizBankRecord{{
		Id: "a", FileName: "f1", Timestamp: 100, Difficulty: "easy", Questions: json.RawMessage(`[]`),
	}})
	require.NoError(t, err, "failed to call ReplaceAll")

	// An uncommitted replace holds the only write connection.
	tx, err := storage.db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec("DELETE FROM quiz_banks")
	require.NoError(t, err)

	records, err := storage.FetchAll(context.Background())
	require.NoError(t, err, "reads must not queue behind the writer")
	require.Len(t, records, 1)
	require.Equal(t, "a", records[0].Id)
	require.NoError(t, storage.Ping(context.Background()))
}
