package orchwf

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowInstance is one row per invocation of an orchestration.
type WorkflowInstance struct {
	ID           int64
	WorkflowID   string
	WorkflowName string
	Status       WorkflowStatus
	StartTime    time.Time
	EndTime      *time.Time
	ErrorMessage *string
	PayloadData  json.RawMessage
}

// WorkstepInstance is one row per logical workstep execution (not per
// attempt - attempts mutate AttemptNumber on the same row).
type WorkstepInstance struct {
	ID                 int64
	WorkflowInstanceID *int64
	StepID             string
	StepName           string
	BianSD             string
	Status             WorkstepStatus
	AttemptNumber      int
	MaxRetries         int
	RetryDelay         int
	StartTime          *time.Time
	EndTime            *time.Time
	ErrorMessage       *string
	ResultData         json.RawMessage
	PayloadData        json.RawMessage
}

// WorkflowLifecycle is one append-only journal row per workflow status change.
type WorkflowLifecycle struct {
	ID                 string
	WorkflowInstanceID int64
	FromState          WorkflowStatus
	ToState            WorkflowStatus
	ChangeDT           time.Time
	ChangedBy          string
	Notes              string
}

// WorkstepLifecycle is one append-only journal row per workstep status change.
type WorkstepLifecycle struct {
	ID                 string
	WorkstepInstanceID int64
	FromState          WorkstepStatus
	ToState            WorkstepStatus
	ChangeDT           time.Time
	ChangedBy          string
	Notes              string
}

// JSONB adapts a json.RawMessage for database/sql scanning, mirroring the
// teacher's map[string]interface{} JSONB type but over raw bytes, since
// workflow/workstep payloads here are arbitrary user types marshaled once at
// the call site rather than always maps.
type JSONB json.RawMessage

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		cp := make([]byte, len(v))
		copy(cp, v)
		*j = cp
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return fmt.Errorf("orchwf: cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// marshalPayload JSON-encodes v for storage on a *_data column. A nil v
// stores an empty JSON object, matching the original's `json.dumps(payload or {})`.
func marshalPayload(v interface{}) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
	}
	return data
}

// serializeResult JSON-encodes result; if result is not JSON-representable it
// falls back to the displayable string form. This is observability, not
// round-tripping (spec §4.6).
func serializeResult(result interface{}) json.RawMessage {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", result))
	}
	return data
}
