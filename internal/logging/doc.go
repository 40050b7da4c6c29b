// Package logging provides structured logging for the update agent and CLI.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used throughout the agent.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed diagnostics (collaborator calls, queued requests)
//   - Info: Normal operations (link changes, readiness, staged images)
//   - Warn: Non-fatal issues (advertisement or bind failures)
//   - Error: Failures the operator has to act on
//
// The level is held in a zap.AtomicLevel so SetDebug can change verbosity
// while the agent is running.
//
// # Structured Logging
//
//	logging.Info("Updater ready",
//	    zap.String("url", "http://device1.local/update"),
//	)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.InitializeWithOptions(logging.Options{
//	    Level: "debug",
//	    File:  "/var/log/remoteupdate/agent.log",
//	}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When File is set, output goes through a lumberjack rotating writer.
// Without a level (flag or REMOTEUPDATE_LOG_LEVEL) logging is silent.
package logging
