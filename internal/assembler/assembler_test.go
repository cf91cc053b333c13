package assembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontail/sessiontail/pkg/types"
)

func at(sec int64) time.Time {
	return time.UnixMilli(sec * 1000)
}

func kinds(results []Result) []Kind {
	out := make([]Kind, len(results))
	for i, r := range results {
		out[i] = r.Kind
	}
	return out
}

func TestUserTurn(t *testing.T) {
	a := New("s1")

	results := a.FeedBatch([]types.SessionEvent{
		{Type: types.EventStart, Role: types.RoleUser, Text: "hi", Timestamp: at(1)},
		{Type: types.EventEnd, Timestamp: at(2)},
	})

	require.Equal(t, []Kind{KindCompleted, KindNoChange, KindBatchComplete}, kinds(results))

	msg := results[0].Message
	assert.Equal(t, types.RoleUser, msg.Role)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, types.MessageComplete, msg.Status)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, int64(1000), msg.Time.Created)

	require.Len(t, results[2].Batch, 1)
	assert.Same(t, msg, results[2].Batch[0])
}

func TestAssistantTurnWithToolCall(t *testing.T) {
	a := New("s1")

	events := []types.SessionEvent{
		{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1", Timestamp: at(1)},
		{Type: types.EventText, Text: "Hel", Timestamp: at(2)},
		{Type: types.EventText, Text: "lo", Timestamp: at(3)},
		{Type: types.EventToolUse, ToolID: "T1", ToolName: "search", ToolInput: map[string]any{"q": "go"}, Timestamp: at(4)},
		{Type: types.EventToolResult, ToolID: "T1", ToolOutput: "42 hits", Timestamp: at(5)},
		{Type: types.EventEnd, Usage: &types.TokenUsage{Input: 10, Output: 20}, Timestamp: at(6)},
	}

	var last Result
	for _, ev := range events {
		results := a.Feed(ev)
		require.Len(t, results, 1)
		last = results[0]
	}

	require.Equal(t, KindCompleted, last.Kind)
	msg := last.Message
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, types.MessageComplete, msg.Status)
	assert.Equal(t, &types.TokenUsage{Input: 10, Output: 20}, msg.Usage)

	require.Len(t, msg.Timeline, 2)
	assert.Equal(t, types.TimelineText, msg.Timeline[0].Kind)
	assert.Equal(t, "Hello", msg.Timeline[0].Text)
	assert.Equal(t, types.TimelineTool, msg.Timeline[1].Kind)
	assert.Equal(t, "T1", msg.Timeline[1].ToolID)

	require.Contains(t, msg.ToolCalls, "T1")
	rec := msg.ToolCalls["T1"]
	assert.Equal(t, types.ToolSuccess, rec.Status)
	assert.Equal(t, "42 hits", rec.Output)
	assert.Equal(t, "search", rec.Name)
	require.NotNil(t, rec.Time.End)
	assert.Equal(t, int64(5000), *rec.Time.End)

	assert.Equal(t, StateComplete, a.State())
}

func TestToolUseWithoutIDIsDropped(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"})

	results := a.Feed(types.SessionEvent{Type: types.EventToolUse, ToolName: "search"})

	require.Equal(t, []Kind{KindNoChange}, kinds(results))
	assert.Equal(t, StateAccumulating, a.State())

	results = a.Feed(types.SessionEvent{Type: types.EventEnd})
	require.Equal(t, KindCompleted, results[0].Kind)
	assert.Empty(t, results[0].Message.ToolCalls)
}

func TestFailedToolResult(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"})
	a.Feed(types.SessionEvent{Type: types.EventToolUse, ToolID: "T1", ToolName: "bash"})

	results := a.Feed(types.SessionEvent{Type: types.EventToolResult, ToolID: "T1", ToolOutput: "exit 1", ToolError: "command failed"})

	require.Equal(t, KindUpdated, results[0].Kind)
	rec := results[0].Message.ToolCalls["T1"]
	assert.Equal(t, types.ToolFailed, rec.Status)
	assert.Equal(t, "command failed", rec.Error)
	assert.Equal(t, "exit 1", rec.Output)
}

func TestUnmatchedToolResultIsIgnored(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"})

	results := a.Feed(types.SessionEvent{Type: types.EventToolResult, ToolID: "T9", ToolOutput: "stale"})

	require.Equal(t, []Kind{KindNoChange}, kinds(results))
	assert.Equal(t, StateAccumulating, a.State())
}

func TestRepeatedStartWithSameIDContinues(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1", Text: "a"})

	results := a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"})
	require.Equal(t, []Kind{KindNoChange}, kinds(results))

	a.Feed(types.SessionEvent{Type: types.EventText, Text: "b"})
	results = a.Feed(types.SessionEvent{Type: types.EventEnd})
	assert.Equal(t, "ab", results[0].Message.Content)
}

func TestNewStartFinalizesPreviousTurn(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1", Text: "first"})

	results := a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m2", Text: "second"})

	require.Equal(t, []Kind{KindCompleted, KindUpdated}, kinds(results))
	assert.Equal(t, "m1", results[0].Message.ID)
	assert.Equal(t, types.MessageComplete, results[0].Message.Status)
	assert.Equal(t, "m2", results[1].Message.ID)
	assert.Equal(t, types.MessageStreaming, results[1].Message.Status)
}

func TestUserStartFinalizesStreamingAssistant(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1", Text: "thinking"})

	results := a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleUser, Text: "never mind"})

	require.Equal(t, []Kind{KindCompleted, KindCompleted}, kinds(results))
	assert.Equal(t, types.RoleAssistant, results[0].Message.Role)
	assert.Equal(t, types.RoleUser, results[1].Message.Role)
	assert.Equal(t, "never mind", results[1].Message.Content)
}

func TestErrorIsTerminal(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1", Text: "partial"})

	results := a.Feed(types.SessionEvent{Type: types.EventError, ErrorMessage: "rate limited"})

	require.Equal(t, []Kind{KindFailed}, kinds(results))
	assert.Equal(t, "Error: rate limited", results[0].Message.Content)
	assert.Equal(t, types.MessageFailed, results[0].Message.Status)
	assert.Equal(t, StateFailed, a.State())

	// Nothing after a failure is assembled.
	results = a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleUser, Text: "hello?"})
	require.Equal(t, []Kind{KindNoChange}, kinds(results))
	results = a.Feed(types.SessionEvent{Type: types.EventEnd})
	require.Equal(t, []Kind{KindNoChange}, kinds(results))
}

func TestErrorWithoutBufferSynthesizesFailedMessage(t *testing.T) {
	a := New("s1")

	results := a.Feed(types.SessionEvent{Type: types.EventError, ErrorMessage: "boom"})

	require.Equal(t, []Kind{KindFailed}, kinds(results))
	msg := results[0].Message
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, "Error: boom", msg.Content)
}

func TestOrphanedTextIsDropped(t *testing.T) {
	a := New("s1")

	results := a.Feed(types.SessionEvent{Type: types.EventText, Text: "lost"})

	require.Equal(t, []Kind{KindNoChange}, kinds(results))
	assert.Equal(t, StateIdle, a.State())
}

func TestEndWithoutBufferIsNoOp(t *testing.T) {
	a := New("s1")

	results := a.Feed(types.SessionEvent{Type: types.EventEnd})

	require.Equal(t, []Kind{KindNoChange}, kinds(results))
	assert.Equal(t, StateIdle, a.State())
}

func TestSessionInitAndSummary(t *testing.T) {
	a := New("s1")

	results := a.Feed(types.SessionEvent{Type: types.EventSessionInit, SessionID: "s1"})
	require.Equal(t, KindSessionIdentified, results[0].Kind)
	assert.Equal(t, "s1", results[0].SessionID)

	results = a.Feed(types.SessionEvent{Type: types.EventSummary, SessionID: "s1", Summary: "Fixing the build"})
	require.Equal(t, KindSummary, results[0].Kind)
	assert.Equal(t, "Fixing the build", results[0].Summary)
}

func TestUpdatedSnapshotsAreIndependent(t *testing.T) {
	a := New("s1")
	a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"})

	first := a.Feed(types.SessionEvent{Type: types.EventText, Text: "one"})[0].Message
	a.Feed(types.SessionEvent{Type: types.EventText, Text: " two"})

	// Later mutations must not bleed into earlier snapshots.
	assert.Equal(t, "one", first.Content)
}

func TestFeedBatchCollectsFinalizedMessages(t *testing.T) {
	a := New("s1")

	results := a.FeedBatch([]types.SessionEvent{
		{Type: types.EventStart, Role: types.RoleUser, Text: "hi"},
		{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"},
		{Type: types.EventText, Text: "hello"},
		{Type: types.EventEnd},
	})

	last := results[len(results)-1]
	require.Equal(t, KindBatchComplete, last.Kind)
	require.Len(t, last.Batch, 2)
	assert.Equal(t, types.RoleUser, last.Batch[0].Role)
	assert.Equal(t, types.RoleAssistant, last.Batch[1].Role)
}

func TestFeedBatchWithoutFinalizationHasNoBatchResult(t *testing.T) {
	a := New("s1")

	results := a.FeedBatch([]types.SessionEvent{
		{Type: types.EventStart, Role: types.RoleAssistant, MessageID: "m1"},
		{Type: types.EventText, Text: "still streaming"},
	})

	for _, r := range results {
		assert.NotEqual(t, KindBatchComplete, r.Kind)
	}
}

func TestStartWithoutMessageIDGetsGeneratedID(t *testing.T) {
	a := New("s1")

	results := a.Feed(types.SessionEvent{Type: types.EventStart, Role: types.RoleAssistant})

	require.Equal(t, KindUpdated, results[0].Kind)
	assert.NotEmpty(t, results[0].Message.ID)
}
