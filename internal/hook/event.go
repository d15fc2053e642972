// Package hook adapts host lifecycle events to engine operations. Each
// adapter runs in a fresh short-lived process: decode one event from
// stdin, act, emit one response, exit.
package hook

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/engram-sh/engram/internal/extract"
)

// Event is the superset of fields the host sends across all lifecycle
// events. Adapters read only the fields their event defines.
type Event struct {
	SessionID        string          `json:"session_id"`
	Prompt           string          `json:"prompt"`
	ToolName         string          `json:"tool_name"`
	ToolInput        map[string]any  `json:"tool_input"`
	ToolResponse     json.RawMessage `json:"tool_response"`
	NotificationType string          `json:"notification_type"`
	Message          string          `json:"message"`
	Severity         string          `json:"severity"`
	AgentType        string          `json:"agent_type"`
	TaskDescription  string          `json:"task_description"`
	Result           string          `json:"result"`
	Success          *bool           `json:"success"`
	Reason           string          `json:"reason"`
	DurationMS       int64           `json:"duration_ms"`
}

// DecodeEvent reads one JSON event. Malformed input is an error the
// caller turns into a no-op; it must never fail the host tool.
func DecodeEvent(r io.Reader) (*Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &ev, nil
}

// ResponseText flattens the tool response field, which hosts send as
// either a JSON string or a structured object.
func (ev *Event) ResponseText() string {
	if len(ev.ToolResponse) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ev.ToolResponse, &s); err == nil {
		return s
	}
	return string(ev.ToolResponse)
}

// payload converts the event into the extractor's view of it.
func (ev *Event) payload() extract.Payload {
	success := true
	if ev.Success != nil {
		success = *ev.Success
	}
	return extract.Payload{
		ToolName:         ev.ToolName,
		ToolInput:        ev.ToolInput,
		ToolResponse:     ev.ResponseText(),
		AgentType:        ev.AgentType,
		TaskDescription:  ev.TaskDescription,
		Result:           ev.Result,
		Success:          success,
		NotificationType: ev.NotificationType,
		Message:          ev.Message,
		Severity:         ev.Severity,
		DurationMS:       ev.DurationMS,
	}
}

// Decisions an adapter can return. The zero value allows.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Response is what an adapter reports back to the host. Context is
// advisory text injected into the conversation; Reason explains a
// block.
type Response struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Context  string `json:"context,omitempty"`
}

// Blocked reports whether the response denies the pending action.
func (r Response) Blocked() bool {
	return r.Decision == DecisionBlock
}

func allow() Response {
	return Response{Decision: DecisionAllow}
}
