// Package assembler reconstructs conversation messages from ordered session
// events: buffering streamed assistant turns, correlating tool calls with
// their results, and emitting a typed result for every processed event.
package assembler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// State is the per-session assembly state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateComplete
	// StateFailed is terminal: once a session errors, no further events are
	// assembled.
	StateFailed
)

// String returns a readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Kind discriminates assembler results.
type Kind int

const (
	// KindNoChange means the event produced no observable update.
	KindNoChange Kind = iota
	// KindUpdated carries a replaceable snapshot of a streaming message.
	KindUpdated
	// KindCompleted carries a finalized, immutable message.
	KindCompleted
	// KindFailed carries a terminally failed message.
	KindFailed
	// KindSessionIdentified reports the session id from an init event.
	KindSessionIdentified
	// KindSummary reports a session-level summary line.
	KindSummary
	// KindBatchComplete carries every message finalized during one feed
	// call that ended on a turn boundary.
	KindBatchComplete
)

// Result is the typed output of processing one event.
type Result struct {
	Kind      Kind
	Message   *types.AssembledMessage
	SessionID string
	Summary   string
	Batch     []*types.AssembledMessage
}

// Assembler is the per-session state machine. It is not safe for concurrent
// use; the owning processing sequence serializes all calls.
type Assembler struct {
	sessionID string
	state     State
	buf       *types.AssembledMessage
	log       zerolog.Logger
}

// New creates an assembler for one session.
func New(sessionID string) *Assembler {
	return &Assembler{
		sessionID: sessionID,
		state:     StateIdle,
		log:       logging.For("assembler").With().Str("session", sessionID).Logger(),
	}
}

// State returns the current assembly state.
func (a *Assembler) State() State {
	return a.state
}

// Feed processes one event in arrival order. It returns one result per
// observable effect; finalizing an in-progress turn before starting another
// yields two.
func (a *Assembler) Feed(ev types.SessionEvent) []Result {
	if a.state == StateFailed {
		return []Result{{Kind: KindNoChange}}
	}

	switch ev.Type {
	case types.EventStart:
		return a.handleStart(ev)
	case types.EventText:
		return a.handleText(ev)
	case types.EventToolUse:
		return a.handleToolUse(ev)
	case types.EventToolResult:
		return a.handleToolResult(ev)
	case types.EventEnd:
		return a.handleEnd(ev)
	case types.EventError:
		return a.handleError(ev)
	case types.EventSessionInit:
		return []Result{{Kind: KindSessionIdentified, SessionID: ev.SessionID}}
	case types.EventSummary:
		return []Result{{Kind: KindSummary, SessionID: ev.SessionID, Summary: ev.Summary}}
	case types.EventUnknown:
		a.log.Debug().Str("rawType", ev.RawType).Msg("ignoring unknown event type")
		return []Result{{Kind: KindNoChange}}
	default:
		a.log.Debug().Str("type", string(ev.Type)).Msg("ignoring unexpected event type")
		return []Result{{Kind: KindNoChange}}
	}
}

// FeedBatch processes a read batch in order. When the batch finalized at
// least one message, a trailing BatchComplete result carries everything
// finalized during this call.
func (a *Assembler) FeedBatch(events []types.SessionEvent) []Result {
	var results []Result
	var finalized []*types.AssembledMessage

	for _, ev := range events {
		for _, res := range a.Feed(ev) {
			if res.Kind == KindCompleted || res.Kind == KindFailed {
				finalized = append(finalized, res.Message)
			}
			results = append(results, res)
		}
	}

	if len(finalized) > 0 {
		results = append(results, Result{Kind: KindBatchComplete, Batch: finalized})
	}
	return results
}

func (a *Assembler) handleStart(ev types.SessionEvent) []Result {
	var results []Result

	if ev.Role == types.RoleUser {
		if a.buf != nil {
			results = append(results, a.finalize(ev))
		}
		// User turns have no partial state: synthesize the message already
		// complete.
		now := eventMillis(ev)
		msg := &types.AssembledMessage{
			ID:        messageID(ev),
			SessionID: a.sessionID,
			Role:      types.RoleUser,
			Content:   ev.Text,
			Status:    types.MessageComplete,
			Time:      types.MessageTime{Created: now, Updated: now},
		}
		if ev.Text != "" {
			msg.Timeline = []types.TimelineElement{{Kind: types.TimelineText, Text: ev.Text}}
		}
		a.state = StateComplete
		return append(results, Result{Kind: KindCompleted, Message: msg})
	}

	// Assistant turn: the correlation identity decides whether this start
	// continues the in-progress buffer or opens a new one.
	id := messageID(ev)
	if a.buf != nil {
		if a.buf.ID == id {
			return []Result{{Kind: KindNoChange}}
		}
		results = append(results, a.finalize(ev))
	}

	now := eventMillis(ev)
	a.buf = &types.AssembledMessage{
		ID:        id,
		SessionID: a.sessionID,
		Role:      types.RoleAssistant,
		Content:   ev.Text,
		Status:    types.MessageStreaming,
		ToolCalls: make(map[string]*types.ToolCallRecord),
		Time:      types.MessageTime{Created: now, Updated: now},
	}
	if ev.Text != "" {
		a.buf.Timeline = []types.TimelineElement{{Kind: types.TimelineText, Text: ev.Text}}
	}
	a.state = StateAccumulating

	return append(results, Result{Kind: KindUpdated, Message: a.buf.Clone()})
}

func (a *Assembler) handleText(ev types.SessionEvent) []Result {
	if a.buf == nil {
		a.log.Debug().Msg("text event with no open message buffer")
		return []Result{{Kind: KindNoChange}}
	}

	a.buf.Content += ev.Text
	// Coalesce adjacent text fragments into one timeline element.
	if n := len(a.buf.Timeline); n > 0 && a.buf.Timeline[n-1].Kind == types.TimelineText {
		a.buf.Timeline[n-1].Text += ev.Text
	} else {
		a.buf.Timeline = append(a.buf.Timeline, types.TimelineElement{Kind: types.TimelineText, Text: ev.Text})
	}
	a.buf.Time.Updated = eventMillis(ev)

	return []Result{{Kind: KindUpdated, Message: a.buf.Clone()}}
}

func (a *Assembler) handleToolUse(ev types.SessionEvent) []Result {
	if ev.ToolID == "" {
		a.log.Warn().Str("tool", ev.ToolName).Msg("dropping tool_use event without id")
		return []Result{{Kind: KindNoChange}}
	}
	if a.buf == nil {
		a.log.Debug().Str("toolId", ev.ToolID).Msg("tool_use event with no open message buffer")
		return []Result{{Kind: KindNoChange}}
	}
	if _, exists := a.buf.ToolCalls[ev.ToolID]; exists {
		a.log.Debug().Str("toolId", ev.ToolID).Msg("duplicate tool_use id within message")
		return []Result{{Kind: KindNoChange}}
	}

	a.buf.ToolCalls[ev.ToolID] = &types.ToolCallRecord{
		ID:     ev.ToolID,
		Name:   ev.ToolName,
		Input:  ev.ToolInput,
		Status: types.ToolRunning,
		Time:   types.ToolTime{Start: eventMillis(ev)},
	}
	a.buf.Timeline = append(a.buf.Timeline, types.TimelineElement{Kind: types.TimelineTool, ToolID: ev.ToolID})
	a.buf.Time.Updated = eventMillis(ev)

	return []Result{{Kind: KindUpdated, Message: a.buf.Clone()}}
}

func (a *Assembler) handleToolResult(ev types.SessionEvent) []Result {
	if a.buf == nil || ev.ToolID == "" {
		return []Result{{Kind: KindNoChange}}
	}

	record, ok := a.buf.ToolCalls[ev.ToolID]
	if !ok || record.Status != types.ToolRunning {
		// Unmatched results are a protocol quirk, not an error.
		a.log.Debug().Str("toolId", ev.ToolID).Msg("dropping unmatched tool_result")
		return []Result{{Kind: KindNoChange}}
	}

	record.Output = ev.ToolOutput
	if ev.ToolError != "" {
		record.Status = types.ToolFailed
		record.Error = ev.ToolError
	} else {
		record.Status = types.ToolSuccess
	}
	end := eventMillis(ev)
	record.Time.End = &end
	a.buf.Time.Updated = end

	return []Result{{Kind: KindUpdated, Message: a.buf.Clone()}}
}

func (a *Assembler) handleEnd(ev types.SessionEvent) []Result {
	if a.buf == nil {
		a.state = StateIdle
		return []Result{{Kind: KindNoChange}}
	}
	if ev.Usage != nil {
		a.buf.Usage = ev.Usage
	}
	return []Result{a.finalize(ev)}
}

func (a *Assembler) handleError(ev types.SessionEvent) []Result {
	msg := a.buf
	if msg == nil {
		now := eventMillis(ev)
		msg = &types.AssembledMessage{
			ID:        uuid.NewString(),
			SessionID: a.sessionID,
			Role:      types.RoleAssistant,
			Time:      types.MessageTime{Created: now, Updated: now},
		}
	}

	msg.Content = fmt.Sprintf("Error: %s", ev.ErrorMessage)
	msg.Status = types.MessageFailed
	msg.Time.Updated = eventMillis(ev)

	a.buf = nil
	a.state = StateFailed

	return []Result{{Kind: KindFailed, Message: msg}}
}

// finalize closes the current buffer as complete and resets for the next
// turn.
func (a *Assembler) finalize(ev types.SessionEvent) Result {
	msg := a.buf
	msg.Status = types.MessageComplete
	msg.Time.Updated = eventMillis(ev)

	a.buf = nil
	a.state = StateComplete

	return Result{Kind: KindCompleted, Message: msg}
}

// messageID returns the event's correlation identity, or a fresh id when the
// log did not carry one.
func messageID(ev types.SessionEvent) string {
	if ev.MessageID != "" {
		return ev.MessageID
	}
	return uuid.NewString()
}

// eventMillis returns the event timestamp in Unix ms, falling back to the
// wall clock for events without one.
func eventMillis(ev types.SessionEvent) int64 {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp.UnixMilli()
	}
	return time.Now().UnixMilli()
}
