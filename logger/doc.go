// Package logger provides structured logging for pipekit using zerolog.
//
// Workers, pipes and tees log lifecycle transitions at debug level and
// processing failures at error level. Library code defaults to the global
// logger tagged with a component name; tests usually install Nop or a
// buffer-backed logger via NewWriter.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("tee")
//	log.Info("flushed", logger.Fields(logger.FieldFlushSize, 12))
package logger
