// Package logging wraps zap the way most of the pack's services do:
// one process-wide *zap.Logger, JSON in production, console in dev, with
// small helpers for attaching job/handler identity to a call.
package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger. env selects the encoder: "production"
// gets JSON suited to log aggregation, anything else gets zap's
// human-readable development console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ForJob returns a logger annotated with the fields every job-related log
// line in the worker runtime carries. Handlers log through the plain
// logger they are constructed with.
func ForJob(logger *zap.Logger, jobID, handlerRef, queue string) *zap.Logger {
	return logger.With(
		zap.String("job_id", jobID),
		zap.String("handler_ref", handlerRef),
		zap.String("queue", queue),
	)
}
