package types

// MessageStatus tracks the lifecycle of an assembled message.
type MessageStatus string

const (
	MessageStreaming MessageStatus = "streaming"
	MessageComplete  MessageStatus = "complete"
	MessageFailed    MessageStatus = "failed"
)

// ToolStatus tracks the lifecycle of a tool call within a message.
type ToolStatus string

const (
	ToolRunning ToolStatus = "running"
	ToolSuccess ToolStatus = "success"
	ToolFailed  ToolStatus = "failed"
)

// TimelineKind discriminates timeline elements.
type TimelineKind string

const (
	TimelineText TimelineKind = "text"
	TimelineTool TimelineKind = "tool"
)

// TimelineElement is one entry in a message's ordered timeline: either an
// accumulated text fragment or a reference to a tool call by its id.
type TimelineElement struct {
	Kind   TimelineKind `json:"kind"`
	Text   string       `json:"text,omitempty"`
	ToolID string       `json:"toolID,omitempty"`
}

// ToolTime contains start/end timestamps (Unix ms) for a tool call.
type ToolTime struct {
	Start int64  `json:"start"`
	End   *int64 `json:"end,omitempty"`
}

// ToolCallRecord is one tool invocation correlated with its eventual result.
// The ID always comes from the log; it is never synthesized.
type ToolCallRecord struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input,omitempty"`
	Status ToolStatus     `json:"status"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
	Time   ToolTime       `json:"time"`
}

// MessageTime contains creation/update timestamps (Unix ms) for a message.
type MessageTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// AssembledMessage is the queryable representation of one user or assistant
// turn, reconstructed from the session log. While Status is streaming the
// owning assembler may still mutate it; complete and failed messages are
// final.
type AssembledMessage struct {
	ID        string                     `json:"id"`
	SessionID string                     `json:"sessionID"`
	Role      string                     `json:"role"` // "user" | "assistant"
	Content   string                     `json:"content"`
	Timeline  []TimelineElement          `json:"timeline,omitempty"`
	ToolCalls map[string]*ToolCallRecord `json:"toolCalls,omitempty"`
	Status    MessageStatus              `json:"status"`
	Usage     *TokenUsage                `json:"usage,omitempty"`
	Time      MessageTime                `json:"time"`
}

// Clone returns a deep copy. Streaming snapshots handed to subscribers are
// clones so later accumulation never races with a reader.
func (m *AssembledMessage) Clone() *AssembledMessage {
	if m == nil {
		return nil
	}
	out := *m
	if m.Timeline != nil {
		out.Timeline = make([]TimelineElement, len(m.Timeline))
		copy(out.Timeline, m.Timeline)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make(map[string]*ToolCallRecord, len(m.ToolCalls))
		for id, tc := range m.ToolCalls {
			tcCopy := *tc
			if tc.Input != nil {
				tcCopy.Input = make(map[string]any, len(tc.Input))
				for k, v := range tc.Input {
					tcCopy.Input[k] = v
				}
			}
			if tc.Time.End != nil {
				end := *tc.Time.End
				tcCopy.Time.End = &end
			}
			out.ToolCalls[id] = &tcCopy
		}
	}
	if m.Usage != nil {
		usage := *m.Usage
		out.Usage = &usage
	}
	return &out
}
