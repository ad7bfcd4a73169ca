package db

import (
	"encoding/json"
	"time"
)

// Invocation kinds.
const (
	KindCommand = "command"
	KindEvent   = "event"
)

// Invocation statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Invocation represents a row in the invocations table: one completed command
// or event fan-out.
type Invocation struct {
	ID            int64           `json:"id"`
	InvocationID  string          `json:"invocation_id"`
	CorrelationID string          `json:"correlation_id"`
	Automation    string          `json:"automation"`
	Version       string          `json:"version"`
	Kind          string          `json:"kind"`
	Name          string          `json:"name"`
	TeamID        string          `json:"team_id"`
	Status        string          `json:"status"`
	Code          int             `json:"code"`
	Message       string          `json:"message"`
	HandlerCount  int             `json:"handler_count"`
	Results       json.RawMessage `json:"results,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	DurationMs    int64           `json:"duration_ms"`
	Created       time.Time       `json:"created"`
}
