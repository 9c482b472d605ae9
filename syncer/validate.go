package syncer

import (
	"bytes"

	"github.com/breez/quiz-sync/store"
	"github.com/goccy/go-json"
)

type replacePayload struct {
	Data json.RawMessage `json:"data"`
}

// DecodeReplacePayload parses a replace request body of the form
// {"data": [record, ...]}. Anything whose data is not a JSON array is a
// ValidationError.
func DecodeReplacePayload(body []byte) ([]store.QuizBankRecord, error) {
	var payload replacePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ValidationError{Index: -1, Field: "body", Reason: "is not a JSON object"}
	}
	data := bytes.TrimSpace(payload.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, &ValidationError{Index: -1, Field: "data", Reason: "must be a list"}
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, &ValidationError{Index: -1, Field: "data", Reason: "must be a list"}
	}
	records := make([]store.QuizBankRecord, len(elements))
	for i, element := range elements {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(element, &fields); err != nil {
			return nil, &ValidationError{Index: i, Field: "record", Reason: "is malformed"}
		}
		if err := json.Unmarshal(element, &records[i]); err != nil {
			return nil, &ValidationError{Index: i, Field: "record", Reason: "is malformed"}
		}
		// A zero timestamp is valid, so absence has to be detected here.
		if ts, ok := fields["timestamp"]; !ok || isNull(ts) {
			return nil, &ValidationError{Index: i, Field: "timestamp", Reason: "is required"}
		}
		// An explicit null is a payload like any other.
		if q, ok := fields["questions"]; ok && isNull(q) {
			records[i].Questions = []byte("null")
		}
	}
	return records, nil
}

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// ValidateRecords checks the fields every stored record needs. Questions
// may hold any JSON value, null included, but must be present.
func ValidateRecords(records []store.QuizBankRecord) error {
	for i, r := range records {
		switch {
		case r.Id == "":
			return &ValidationError{Index: i, Field: "id", Reason: "is required"}
		case r.FileName == "":
			return &ValidationError{Index: i, Field: "fileName", Reason: "is required"}
		case r.Difficulty == "":
			return &ValidationError{Index: i, Field: "difficulty", Reason: "is required"}
		}
		questions := bytes.TrimSpace(r.Questions)
		if len(questions) == 0 {
			return &ValidationError{Index: i, Field: "questions", Reason: "is required"}
		}
		if !json.Valid(questions) {
			return &ValidationError{Index: i, Field: "questions", Reason: "is not valid JSON"}
		}
	}
	return nil
}
