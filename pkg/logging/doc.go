// Package logging provides structured logging configuration for fakemesh.
//
// It wraps log/slog so every component logs the same way. Operational logs
// go to stderr by default and are separate from the debug trace output.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("server listening", "addr", "0.0.0.0:8829")
//
// Components accept a *slog.Logger through an option. If none is given they
// use logging.Nop().
//
// Standard library components that only accept a *log.Logger, such as
// http.Server.ErrorLog, are bridged with NewStdLogger.
package logging
