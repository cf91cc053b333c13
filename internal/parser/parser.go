// Package parser decodes raw session log lines into typed events.
//
// Decoding is deliberately permissive: unknown fields are ignored, payloads
// may appear either as top-level fields or as content blocks, and a line
// that cannot be decoded is skipped rather than surfaced as an error.
package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sessiontail/sessiontail/internal/logging"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// rawLine mirrors the wire shape of one log line. Every payload field is
// optional; the type tag decides which ones matter.
type rawLine struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Timestamp json.RawMessage `json:"timestamp"`

	Role      string `json:"role"`
	MessageID string `json:"messageId"`

	Text    json.RawMessage `json:"text"`
	Content json.RawMessage `json:"content"`

	ToolID    string          `json:"toolId"`
	ID        string          `json:"id"`
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	Output    json.RawMessage `json:"output"`
	Error     json.RawMessage `json:"error"`
	IsError   json.RawMessage `json:"is_error"`

	Usage   *rawUsage `json:"usage"`
	Message string    `json:"message"`
	Summary string    `json:"summary"`
}

// rawUsage decodes token counters in the wire naming.
type rawUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// contentBlock is the block form used inside content arrays.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// Parse decodes a single log line. It never fails hard: malformed JSON or a
// structurally unusable line yields nil with the reason logged at debug
// level. Unrecognized type tags decode into an Unknown event.
func Parse(line []byte) *types.SessionEvent {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}

	var raw rawLine
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		logging.Debug().Err(err).Int("len", len(trimmed)).Msg("skipping unparsable log line")
		return nil
	}
	if raw.Type == "" {
		logging.Debug().Msg("skipping log line without type tag")
		return nil
	}

	ev := &types.SessionEvent{
		SessionID: raw.SessionID,
		Timestamp: parseTimestamp(raw.Timestamp),
	}

	switch raw.Type {
	case "start":
		ev.Type = types.EventStart
		ev.Role = raw.Role
		ev.MessageID = raw.MessageID
		ev.Text = flattenText(raw.Text, raw.Content)

	case "text":
		ev.Type = types.EventText
		ev.Text = flattenText(raw.Text, raw.Content)

	case "tool_use":
		ev.Type = types.EventToolUse
		ev.ToolID = firstNonEmpty(raw.ToolID, raw.ID)
		ev.ToolName = raw.Name
		ev.ToolInput = raw.Input
		if ev.ToolID == "" || ev.ToolName == "" {
			fillToolUseFromBlocks(ev, raw.Content)
		}

	case "tool_result":
		ev.Type = types.EventToolResult
		ev.ToolID = firstNonEmpty(raw.ToolID, raw.ToolUseID, raw.ID)
		ev.ToolOutput = flattenText(raw.Output, raw.Content)
		ev.ToolError = asString(raw.Error)
		if ev.ToolError == "" && asBool(raw.IsError) {
			ev.ToolError = ev.ToolOutput
		}

	case "end":
		ev.Type = types.EventEnd
		if raw.Usage != nil {
			ev.Usage = &types.TokenUsage{
				Input:         raw.Usage.InputTokens,
				Output:        raw.Usage.OutputTokens,
				CacheRead:     raw.Usage.CacheReadInputTokens,
				CacheCreation: raw.Usage.CacheCreationInputTokens,
			}
		}

	case "error":
		ev.Type = types.EventError
		ev.ErrorMessage = firstNonEmpty(raw.Message, asString(raw.Error))

	case "session_init":
		ev.Type = types.EventSessionInit

	case "summary":
		ev.Type = types.EventSummary
		ev.Summary = raw.Summary

	default:
		ev.Type = types.EventUnknown
		ev.RawType = raw.Type
		ev.Raw = json.RawMessage(bytes.Clone(trimmed))
	}

	return ev
}

// ParseAll decodes a batch of lines, preserving input order and silently
// omitting the unparsable ones.
func ParseAll(lines [][]byte) []types.SessionEvent {
	events := make([]types.SessionEvent, 0, len(lines))
	for _, line := range lines {
		if ev := Parse(line); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// parseTimestamp accepts RFC3339 strings (with or without sub-second
// precision) and numeric Unix milliseconds. Anything else yields zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
		return time.Time{}
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}

	return time.Time{}
}

// flattenText extracts textual content from whichever form the line used:
// a plain string, an array of content blocks, or nothing.
func flattenText(candidates ...json.RawMessage) string {
	for _, raw := range candidates {
		if len(raw) == 0 {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}

		var blocks []contentBlock
		if err := json.Unmarshal(raw, &blocks); err == nil {
			var b strings.Builder
			for _, block := range blocks {
				if block.Text != "" {
					b.WriteString(block.Text)
				}
			}
			if b.Len() > 0 {
				return b.String()
			}
		}
	}
	return ""
}

// fillToolUseFromBlocks pulls tool id/name/input out of a content block when
// the line did not carry them at the top level.
func fillToolUseFromBlocks(ev *types.SessionEvent, content json.RawMessage) {
	if len(content) == 0 {
		return
	}
	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return
	}
	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}
		if ev.ToolID == "" {
			ev.ToolID = block.ID
		}
		if ev.ToolName == "" {
			ev.ToolName = block.Name
		}
		if ev.ToolInput == nil {
			ev.ToolInput = block.Input
		}
		return
	}
}

// asString coerces a raw JSON value to a string: quoted strings directly,
// numbers and booleans via their literal form.
func asString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	literal := strings.TrimSpace(string(raw))
	if literal == "null" || literal == "{}" || literal == "[]" {
		return ""
	}
	return literal
}

// asBool coerces a raw JSON value to a bool, accepting true/false literals
// and their string forms.
func asBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseBool(s)
		return err == nil && parsed
	}
	return false
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
