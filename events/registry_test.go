package events

import (
	"fmt"
	"sync"
	"testing"

	"github.com/breez/quiz-sync/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterUnregister(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := NewRegistry(m)
	a, b := newFakeHandle("a"), newFakeHandle("b")

	r.Register(a)
	r.Register(b)
	require.Equal(t, 2, r.Len())
	require.Equal(t, 2.0, testutil.ToFloat64(m.Subscribers))
	require.ElementsMatch(t, []Handle{a, b}, r.Snapshot())

	require.True(t, r.Unregister(a))
	require.False(t, r.Unregister(a), "second unregister is a no-op")
	require.False(t, r.Unregister(newFakeHandle("unknown")))
	require.Equal(t, 1, r.Len())
	require.Equal(t, 1.0, testutil.ToFloat64(m.Subscribers))
	require.Equal(t, 0, a.closed(), "unregister does not close the handle")
}

func TestUnregisterStaleHandleWithSameID(t *testing.T) {
	r := NewRegistry(nil)
	old, current := newFakeHandle("same"), newFakeHandle("same")
	r.Register(old)
	r.Register(current)

	require.False(t, r.Unregister(old))
	require.Equal(t, []Handle{current}, r.Snapshot())
}

func TestSnapshotIsStable(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeHandle("a"))
	snapshot := r.Snapshot()
	r.Register(newFakeHandle("b"))
	require.Len(t, snapshot, 1)
	require.Equal(t, 2, r.Len())
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(nil)
	handles := []*fakeHandle{newFakeHandle("a"), newFakeHandle("b")}
	for _, h := range handles {
		r.Register(h)
	}
	r.CloseAll()
	require.Equal(t, 0, r.Len())
	for _, h := range handles {
		require.Equal(t, 1, h.closed())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		h := newFakeHandle(fmt.Sprintf("h%v", i))
		go func() {
			defer wg.Done()
			r.Register(h)
			_ = r.Snapshot()
			r.Unregister(h)
		}()
		go func() {
			defer wg.Done()
			for _, s := range r.Snapshot() {
				_ = s.ID()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, r.Len())
}
