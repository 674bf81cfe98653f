// Package errors provides the error taxonomy shared by workers, queues, pipes
// and tees. Every failure surfaced by pipekit is an *AppError carrying a
// machine-readable ErrorCode, so callers can match on codes with errors.Is.
package errors
