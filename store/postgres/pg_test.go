package postgres

import (
	"os"
	"testing"
	"time"

	"github.com/breez/quiz-sync/store"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *PgSyncStorage {
	t.Helper()
	databaseURL := os.Getenv("TEST_PG_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_PG_DATABASE_URL not set")
	}
	storage, err := NewPGSyncStorage(databaseURL, 4, 5*time.Second)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestReplaceAndFetch(t *testing.T) {
	(&store.StoreTest{}).TestReplaceAndFetch(t, newTestStorage(t))
}

func TestReplaceOverwrites(t *testing.T) {
	(&store.StoreTest{}).TestReplaceOverwrites(t, newTestStorage(t))
}

func TestReplaceEmpty(t *testing.T) {
	(&store.StoreTest{}).TestReplaceEmpty(t, newTestStorage(t))
}

func TestReplaceRollback(t *testing.T) {
	(&store.StoreTest{}).TestReplaceRollback(t, newTestStorage(t))
}

func TestReplaceRollbackOnEmptyStore(t *testing.T) {
	(&store.StoreTest{}).TestReplaceRollbackOnEmptyStore(t, newTestStorage(t))
}

func TestDeleteOne(t *testing.T) {
	(&store.StoreTest{}).TestDeleteOne(t, newTestStorage(t))
}

func TestFetchByDifficulty(t *testing.T) {
	(&store.StoreTest{}).TestFetchByDifficulty(t, newTestStorage(t))
}

func TestConcurrentReads(t *testing.T) {
	(&store.StoreTest{}).TestConcurrentReads(t, newTestStorage(t))
}
