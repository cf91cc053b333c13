package testutil

import (
	"encoding/json"
	"time"
)

// Line builders for session log fixtures. Each returns one JSONL line in
// the wire format the parser accepts.

func marshalLine(fields map[string]any) string {
	b, _ := json.Marshal(fields)
	return string(b)
}

// UserTurn is a complete user message
func UserTurn(sessionID, text string) string {
	return marshalLine(map[string]any{
		"type":      "start",
		"sessionId": sessionID,
		"role":      "user",
		"text":      text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AssistantStart opens a streaming assistant turn
func AssistantStart(sessionID, messageID string) string {
	return marshalLine(map[string]any{
		"type":      "start",
		"sessionId": sessionID,
		"role":      "assistant",
		"messageId": messageID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// AssistantText appends streamed text to the open turn
func AssistantText(sessionID, text string) string {
	return marshalLine(map[string]any{
		"type":      "text",
		"sessionId": sessionID,
		"text":      text,
	})
}

// ToolUse records a tool invocation
func ToolUse(sessionID, toolID, name string, input map[string]any) string {
	return marshalLine(map[string]any{
		"type":      "tool_use",
		"sessionId": sessionID,
		"toolId":    toolID,
		"name":      name,
		"input":     input,
	})
}

// ToolResult records a tool outcome
func ToolResult(sessionID, toolID, output string) string {
	return marshalLine(map[string]any{
		"type":      "tool_result",
		"sessionId": sessionID,
		"toolId":    toolID,
		"output":    output,
	})
}

// AssistantEnd closes the open turn with token usage
func AssistantEnd(sessionID string, inputTokens, outputTokens int) string {
	return marshalLine(map[string]any{
		"type":      "end",
		"sessionId": sessionID,
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	})
}

// ErrorLine records a fatal session error
func ErrorLine(sessionID, message string) string {
	return marshalLine(map[string]any{
		"type":      "error",
		"sessionId": sessionID,
		"message":   message,
	})
}

// SummaryLine records a session summary update
func SummaryLine(sessionID, summary string) string {
	return marshalLine(map[string]any{
		"type":      "summary",
		"sessionId": sessionID,
		"summary":   summary,
	})
}
