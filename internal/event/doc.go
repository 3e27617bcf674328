// Package event provides a pub-sub bus and the typed events friendflow
// publishes.
//
// The engine, the logger observer and the welcome step watcher publish;
// the console renderer and the websocket server subscribe. Producers never
// know who is listening.
//
// # Event Categories
//
//   - [LogEvent]: one log line (level, timestamp, message)
//   - [EngineStateEvent], [CountersEvent]: engine lifecycle and counters
//   - [StatusChangedEvent]: a binding status write to the task store
//   - [WelcomeDeliveredEvent], [StepsReloadedEvent]: welcome package activity
//   - [ContactReconciledEvent]: passive discovery write-back
//
// Handlers run synchronously on the publisher's goroutine and a panicking
// handler does not prevent delivery to the others.
package event
