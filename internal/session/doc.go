// Package session composes the sessiontail pipeline and exposes its
// consumer-facing operations.
//
// # Architecture Overview
//
// The package wires together the lower layers:
//
//   - Service: the composition root; owns everything below
//   - dispatcher: per-session keyed workers; one in-order processing
//     sequence per session, so two file-change notifications can never
//     interleave assembly passes over the same buffer
//   - stream: the live read loop of one session (tracker + assembler +
//     subscribers)
//   - watcher.Registry: one fsnotify watcher per project directory, started
//     on first subscription, stopped with its last stream
//   - cache.Cache: bounded per-session message cache
//   - storage.Store: persisted read cursors and session metadata
//   - event.Bus: typed pub/sub fan-out of pipeline results
//
// # Consumer Operations
//
//	service := session.NewService(cfg)
//	defer service.Close()
//
//	// Ordered history, cache-first.
//	msgs, err := service.LoadHistory(ctx, sessionID, projectPath, 50)
//
//	// Live updates from now on; history is not replayed.
//	ch, cancel, err := service.Subscribe(ctx, sessionID, projectPath)
//	defer cancel()
//	for msg := range ch {
//		// msg is a snapshot; later snapshots with the same ID supersede it
//	}
//
//	ok := service.SessionExists(sessionID, projectPath)
//	n, err := service.MessageCount(ctx, sessionID, projectPath)
//
// # Subscription Lifecycle
//
// Subscriptions are reference-counted per session. The underlying read loop
// stays alive while at least one subscriber is attached and is torn down
// only after a grace period with zero subscribers, so a quick resubscribe
// reuses the still-live stream. Cancelling a subscription releases its
// tracker and, when it was the watched directory's last stream, eventually
// stops that directory's watcher.
//
// # Error Propagation
//
// Parse failures and assembly anomalies never leave the components that
// detect them. Only a file error that survives the full retry budget
// surfaces: a failed history load returns an empty list with the reason,
// and a failed live stream completes its subscriber channels.
package session
