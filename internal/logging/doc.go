// Package logging provides structured logging for friendflow.
//
// It wraps log/slog to emit JSON lines, either to stderr or to a size-rotated
// file under the configured log directory. Child loggers carry persistent
// attributes (run ID, loop, component) and share the parent's output.
//
// # Observers
//
// Every record that passes the level filter is also handed to registered
// observers. The engine uses this to publish log lines on the event bus, which
// is how front-ends receive the (level, timestamp, message) stream:
//
//	logger.Observe(func(r logging.Record) {
//	    bus.Publish(event.NewLogEvent(r.Level, r.Message, r.Attrs))
//	})
//
// # Rotation
//
//	logger, err := logging.NewLogger(logging.Options{
//	    Dir:      "/var/log/friendflow",
//	    Level:    "INFO",
//	    Rotation: logging.RotationConfig{MaxSizeMB: 10, MaxBackups: 3},
//	})
//
// Rotated files are named friendflow.log.1 (newest) through friendflow.log.N.
//
// # Reading logs back
//
// [ReadEntries] and [FilterEntries] load and filter a log file for the
// `friendflow logs` command.
//
// Use [NopLogger] in tests.
package logging
