// Package logger provides structured logging for flowkit using zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped loggers. Pipeline code tags every entry with the
// component ("dataflow", "server", ...) and, when an envelope is being
// processed, with its trace id carried on the context.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("dataflow")
//	log.Info("stage completed", logger.Fields(logger.FieldStage, "word-length"))
package logger
