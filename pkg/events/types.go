// Package events defines lifecycle event types and the publishers that carry
// them off-process.
package events

// Lifecycle stages, one per listener hook.
const (
	StageCommandIncoming        = "command_incoming"
	StageCommandStarting        = "command_starting"
	StageCommandSuccessful      = "command_successful"
	StageCommandFailed          = "command_failed"
	StageEventIncoming          = "event_incoming"
	StageEventStarting          = "event_starting"
	StageEventSuccessful        = "event_successful"
	StageEventFailed            = "event_failed"
	StageMessageSent            = "message_sent"
	StageRegistrationSuccessful = "registration_successful"
)

// LifecycleEvent is emitted for each transition an invocation goes through.
type LifecycleEvent struct {
	Stage         string `json:"stage"`
	Automation    string `json:"automation"`
	Version       string `json:"version"`
	Name          string `json:"name,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	InvocationID  string `json:"invocation_id,omitempty"`
	TeamID        string `json:"team_id,omitempty"`
	Code          *int   `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	HandlerCount  int    `json:"handler_count,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	Timestamp     string `json:"timestamp"`
}
