package types

import (
	"encoding/json"
	"time"
)

// EventType discriminates the variants of a session log line.
type EventType string

const (
	EventStart       EventType = "start"
	EventText        EventType = "text"
	EventToolUse     EventType = "tool_use"
	EventToolResult  EventType = "tool_result"
	EventEnd         EventType = "end"
	EventError       EventType = "error"
	EventSessionInit EventType = "session_init"
	EventSummary     EventType = "summary"
	EventUnknown     EventType = "unknown"
)

// Role values carried by start events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionEvent is one decoded line of a session log. The Type field selects
// which payload fields are meaningful; consumers switch exhaustively on it.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`

	// start
	Role      string `json:"role,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	// start (user turns) and text
	Text string `json:"text,omitempty"`

	// tool_use
	ToolID    string         `json:"toolId,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`

	// tool_result
	ToolOutput string `json:"toolOutput,omitempty"`
	ToolError  string `json:"toolError,omitempty"`

	// end
	Usage *TokenUsage `json:"usage,omitempty"`

	// error
	ErrorMessage string `json:"errorMessage,omitempty"`

	// summary
	Summary string `json:"summary,omitempty"`

	// unknown: the original type tag and the raw line payload
	RawType string          `json:"rawType,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// TokenUsage contains token consumption counters reported on end events.
type TokenUsage struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheRead     int `json:"cacheRead"`
	CacheCreation int `json:"cacheCreation"`
}

// Add accumulates counters from another usage record.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheCreation += other.CacheCreation
}
