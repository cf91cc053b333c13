/*
Package event provides the type-safe pub/sub bus between the session
processing pipeline and its consumers.

The pipeline publishes an event whenever assembly of a session log produces
an observable change; consumers subscribe without any direct dependency on
the pipeline.

# Event Types

Message events:
  - message.updated: streaming message snapshot replaced
  - message.completed: message finalized
  - message.failed: message terminally failed

Session events:
  - batch.completed: a file read finalized one or more messages
  - session.identified: session id discovered in the log
  - session.summary: session summary line updated
  - session.removed: session log file deleted

# Usage

Publishing:

	bus.PublishSync(event.Event{
		Type: event.MessageCompleted,
		Data: event.MessageCompletedData{SessionKey: key, Info: msg},
	})

Subscribing:

	unsubscribe := bus.Subscribe(event.MessageCompleted, func(e event.Event) {
		data := e.Data.(event.MessageCompletedData)
		log.Info().Str("id", data.Info.ID).Msg("message done")
	})
	defer unsubscribe()

# Subscriber Safety

PublishSync runs subscribers in the publisher's goroutine. Subscribers must
complete quickly, use non-blocking channel sends, and never publish
re-entrantly. Use Publish for fire-and-forget notifications where ordering
does not matter.

# Thread Safety

All bus operations are safe for concurrent use.
*/
package event
