// Package logger provides the structured logging interface used across blocktally.
//
// It wraps zerolog with a small field-oriented API:
//
//	logger.Initialize(&cfg.Logging)
//	logger.WithField("file", path).Info("Region file checkpointed")
//	log.WarnWithFields("Sub-task failed", map[string]interface{}{
//	    "chunk_x": 3,
//	    "chunk_z": 17,
//	})
//
// Console output is pretty-printed; when a log file is configured entries are also
// written there as JSON. While the full-screen progress view is active the console
// writer is replaced by io.Discard so log lines do not corrupt the display.
//
// TestLogger captures entries in memory for assertions in tests.
package logger
