package events

import (
	"sync"

	"github.com/goccy/go-json"
)

type fakeHandle struct {
	id string

	mu         sync.Mutex
	messages   [][]byte
	sendErr    error
	closeCalls int
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (f *fakeHandle) ID() string {
	return f.id
}

func (f *fakeHandle) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.closeCalls > 0 {
		return ErrHandleClosed
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeHandle) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeHandle) received() []SyncEventWire {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]SyncEventWire, 0, len(f.messages))
	for _, m := range f.messages {
		var e SyncEventWire
		if err := json.Unmarshal(m, &e); err != nil {
			panic(err)
		}
		events = append(events, e)
	}
	return events
}

func (f *fakeHandle) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// SyncEventWire is the decoded form subscribers see.
type SyncEventWire struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}
