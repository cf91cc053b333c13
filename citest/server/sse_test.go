package server_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessiontail/sessiontail/citest/testutil"
	"github.com/sessiontail/sessiontail/pkg/types"
)

var _ = Describe("SSE Streaming", func() {
	var sessionID string
	var sse *testutil.SSEClient

	BeforeEach(func() {
		sessionID = nextSessionID()
		sse = testServer.SSEClient()
	})

	AfterEach(func() {
		sse.Close()
	})

	Describe("GET /event", func() {
		It("sends the connected event on open", func() {
			err := sse.Connect(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())

			evt, err := sse.WaitForPayloadType("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt.Type).To(Equal("message"))
		})
	})

	Describe("GET /session/{sessionID}/event", func() {
		It("fails for a missing session", func() {
			err := sse.Connect(ctx, "/session/does-not-exist/event?directory="+testServer.WorkDir)
			Expect(err).To(HaveOccurred())
		})

		It("streams live updates without replaying history", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "recorded before subscribe"),
			)
			Expect(err).NotTo(HaveOccurred())

			err = sse.Connect(ctx, "/session/"+sessionID+"/event?directory="+testServer.WorkDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = sse.WaitForPayloadType("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Nothing should arrive for the pre-existing content.
			quiet := sse.CollectEvents(300 * time.Millisecond)
			for _, evt := range quiet {
				if evt.Type == "heartbeat" {
					continue
				}
				payload, perr := evt.ParsePayload()
				Expect(perr).NotTo(HaveOccurred())
				Expect(payload.Type).NotTo(HavePrefix("message."))
			}

			err = testServer.AppendSession(sessionID,
				testutil.UserTurn(sessionID, "appended after subscribe"),
			)
			Expect(err).NotTo(HaveOccurred())

			evt, err := sse.WaitForPayloadType("message.completed", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			mp, err := evt.ParseMessagePayload()
			Expect(err).NotTo(HaveOccurred())
			Expect(mp.Info).NotTo(BeNil())
			Expect(mp.Info.Content).To(Equal("appended after subscribe"))
			Expect(mp.Info.Status).To(Equal(types.MessageComplete))
		})

		It("streams incremental assistant updates", func() {
			err := testServer.WriteSession(sessionID,
				testutil.UserTurn(sessionID, "go"),
			)
			Expect(err).NotTo(HaveOccurred())

			err = sse.Connect(ctx, "/session/"+sessionID+"/event?directory="+testServer.WorkDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = sse.WaitForPayloadType("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			msgID := "msg-" + sessionID
			err = testServer.AppendSession(sessionID,
				testutil.AssistantStart(sessionID, msgID),
				testutil.AssistantText(sessionID, "partial"),
			)
			Expect(err).NotTo(HaveOccurred())

			evt, err := sse.WaitForPayloadType("message.updated", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			mp, err := evt.ParseMessagePayload()
			Expect(err).NotTo(HaveOccurred())
			Expect(mp.Info.ID).To(Equal(msgID))
			Expect(mp.Info.Status).To(Equal(types.MessageStreaming))

			err = testServer.AppendSession(sessionID,
				testutil.AssistantEnd(sessionID, 1, 2),
			)
			Expect(err).NotTo(HaveOccurred())

			evt, err = sse.WaitForPayloadType("message.completed", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			mp, err = evt.ParseMessagePayload()
			Expect(err).NotTo(HaveOccurred())
			Expect(mp.Info.ID).To(Equal(msgID))
			Expect(mp.Info.Content).To(Equal("partial"))
		})

		It("does not deliver events from other sessions", func() {
			otherID := nextSessionID()
			err := testServer.WriteSession(sessionID, testutil.UserTurn(sessionID, "mine"))
			Expect(err).NotTo(HaveOccurred())
			err = testServer.WriteSession(otherID, testutil.UserTurn(otherID, "other"))
			Expect(err).NotTo(HaveOccurred())

			err = sse.Connect(ctx, "/session/"+sessionID+"/event?directory="+testServer.WorkDir)
			Expect(err).NotTo(HaveOccurred())
			_, err = sse.WaitForPayloadType("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// A second subscriber keeps the other session's stream live so
			// its events reach the bus.
			otherSSE := testServer.SSEClient()
			defer otherSSE.Close()
			err = otherSSE.Connect(ctx, "/session/"+otherID+"/event?directory="+testServer.WorkDir)
			Expect(err).NotTo(HaveOccurred())

			err = testServer.AppendSession(otherID,
				testutil.UserTurn(otherID, "not for the first subscriber"),
			)
			Expect(err).NotTo(HaveOccurred())

			_, err = otherSSE.WaitForPayloadType("message.completed", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			for _, evt := range sse.GetAllEvents() {
				if evt.Type == "heartbeat" {
					continue
				}
				payload, perr := evt.ParsePayload()
				Expect(perr).NotTo(HaveOccurred())
				if payload.Type == "server.connected" {
					continue
				}
				Expect(string(payload.Properties)).NotTo(ContainSubstring(otherID))
			}
		})

		It("reports removal when the session file disappears", func() {
			err := testServer.WriteSession(sessionID, testutil.UserTurn(sessionID, "soon gone"))
			Expect(err).NotTo(HaveOccurred())

			err = sse.Connect(ctx, "/session/"+sessionID+"/event?directory="+testServer.WorkDir)
			Expect(err).NotTo(HaveOccurred())
			_, err = sse.WaitForPayloadType("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(testServer.RemoveSession(sessionID)).To(Succeed())

			_, err = sse.WaitForPayloadType("session.removed", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
