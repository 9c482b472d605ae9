package events

import "fmt"

type Kind string

const (
	KindDataUpdated Kind = "dataUpdated"
	KindDataDeleted Kind = "dataDeleted"
)

// SyncEvent is delivered to subscribers as
// {"type": ..., "data": {...}, "timestamp": <unix millis>}.
// Timestamp is assigned by the Dispatcher when the event is published.
type SyncEvent struct {
	Kind      Kind  `json:"type"`
	Data      any   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

type UpdatedData struct {
	Count int `json:"count"`
}

type DeletedData struct {
	Id string `json:"id"`
}

func DataUpdated(count int) SyncEvent {
	return SyncEvent{Kind: KindDataUpdated, Data: UpdatedData{Count: count}}
}

func DataDeleted(id string) SyncEvent {
	return SyncEvent{Kind: KindDataDeleted, Data: DeletedData{Id: id}}
}

// DispatchError records a failed delivery to one subscriber. It is logged by
// the Dispatcher and never returned to publishers.
type DispatchError struct {
	HandleID string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %v failed: %v", e.HandleID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
