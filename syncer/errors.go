package syncer

import "fmt"

// ValidationError rejects write input before storage is touched. Index is
// the offending record's position, or -1 when the payload as a whole is
// malformed.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid payload: %v %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %v: %v %v", e.Index, e.Field, e.Reason)
}

// StoreError wraps any storage failure. A write that returns it was rolled
// back and nothing was broadcast.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %v failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type DeleteOutcome int

const (
	Deleted DeleteOutcome = iota
	NotFound
)

func (o DeleteOutcome) String() string {
	switch o {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	}
	return fmt.Sprintf("DeleteOutcome(%d)", int(o))
}
