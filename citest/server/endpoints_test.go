package server_test

import (
	"fmt"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessiontail/sessiontail/citest/testutil"
	"github.com/sessiontail/sessiontail/pkg/types"
)

// Each spec gets its own session file so cached state never leaks between
// specs.
var sessionSeq atomic.Int64

func nextSessionID() string {
	return fmt.Sprintf("it-%06d", sessionSeq.Add(1))
}

var _ = Describe("Server Endpoints", func() {
	var sessionID string

	BeforeEach(func() {
		sessionID = nextSessionID()
	})

	Describe("GET /health", func() {
		It("responds ok", func() {
			resp, err := client.Get(ctx, "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
		})
	})

	Describe("GET /session", func() {
		It("lists recorded sessions", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "hello"),
			)
			Expect(err).NotTo(HaveOccurred())

			sessions, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())

			found := false
			for _, s := range sessions {
				if s.ID == sessionID {
					found = true
					Expect(s.MessageCount).To(BeNumerically(">=", 1))
				}
			}
			Expect(found).To(BeTrue())
		})

		It("returns an empty list for an unknown directory", func() {
			resp, err := client.Get(ctx, "/session",
				testutil.WithQuery(map[string]string{"directory": "/work/elsewhere"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.String()).To(MatchJSON("[]"))
		})
	})

	Describe("GET /session/{sessionID}", func() {
		It("retrieves session metadata", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "hello"),
				testutil.SummaryLine(sessionID, "Greeting exchange"),
			)
			Expect(err).NotTo(HaveOccurred())

			info, err := client.GetSession(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.ID).To(Equal(sessionID))
		})

		It("returns 404 for a non-existent session", func() {
			resp, err := client.Get(ctx, "/session/non-existent-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))

			var errResp testutil.ErrorResponse
			Expect(resp.JSON(&errResp)).To(Succeed())
			Expect(errResp.Error.Code).To(Equal("NOT_FOUND"))
		})
	})

	Describe("GET /session/{sessionID}/message", func() {
		It("assembles a full conversation", func() {
			msgID := "msg-" + sessionID
			toolID := "tool-" + sessionID
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "list the files"),
				testutil.AssistantStart(sessionID, msgID),
				testutil.AssistantText(sessionID, "Sure, "),
				testutil.AssistantText(sessionID, "listing now."),
				testutil.ToolUse(sessionID, toolID, "ls", map[string]any{"path": "."}),
				testutil.ToolResult(sessionID, toolID, "main.go"),
				testutil.AssistantEnd(sessionID, 12, 34),
			)
			Expect(err).NotTo(HaveOccurred())

			messages, err := client.GetMessages(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))

			user := messages[0]
			Expect(user.Role).To(Equal("user"))
			Expect(user.Content).To(Equal("list the files"))
			Expect(user.Status).To(Equal(types.MessageComplete))

			assistant := messages[1]
			Expect(assistant.ID).To(Equal(msgID))
			Expect(assistant.Role).To(Equal("assistant"))
			Expect(assistant.Content).To(Equal("Sure, listing now."))
			Expect(assistant.Status).To(Equal(types.MessageComplete))
			Expect(assistant.ToolCalls).To(HaveKey(toolID))
			Expect(assistant.ToolCalls[toolID].Status).To(Equal(types.ToolSuccess))
			Expect(assistant.Usage).NotTo(BeNil())
			Expect(assistant.Usage.Input).To(Equal(12))
			Expect(assistant.Usage.Output).To(Equal(34))
		})

		It("honors the limit parameter", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "one"),
				testutil.UserTurn(sessionID, "two"),
				testutil.UserTurn(sessionID, "three"),
			)
			Expect(err).NotTo(HaveOccurred())

			messages, err := client.GetMessagesLimited(ctx, sessionID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Content).To(Equal("two"))
			Expect(messages[1].Content).To(Equal("three"))
		})

		It("rejects a malformed limit", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "hello"),
			)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Get(ctx, "/session/"+sessionID+"/message",
				testutil.WithQuery(map[string]string{"limit": "nope"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})

		It("surfaces a failed conversation", func() {
			msgID := "msg-" + sessionID
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "do something"),
				testutil.AssistantStart(sessionID, msgID),
				testutil.AssistantText(sessionID, "working"),
				testutil.ErrorLine(sessionID, "provider unavailable"),
			)
			Expect(err).NotTo(HaveOccurred())

			messages, err := client.GetMessages(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))
			Expect(messages[1].Status).To(Equal(types.MessageFailed))
			Expect(messages[1].Content).To(ContainSubstring("Error: provider unavailable"))
		})
	})
})
