package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldFileID is the standardized structured logging key for pipeline file identifiers.
	FieldFileID = "file_id"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldKind is the standardized structured logging key for job kinds.
	FieldKind = "kind"
	// FieldEventType tags log lines for machine filtering (job_start, job_failure, ...).
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step when something goes wrong.
	FieldErrorHint = "error_hint"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey string

const (
	fileIDKey    contextKey = "file_id"
	jobIDKey     contextKey = "job_id"
	kindKey      contextKey = "kind"
	requestIDKey contextKey = "request_id"
)

// WithFileID attaches a file identifier to the context.
func WithFileID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, fileIDKey, id)
}

// WithJobID attaches a job identifier to the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithKind attaches a job kind to the context.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey, kind)
}

// WithRequestID attaches a correlation identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := ctx.Value(fileIDKey).(int64); ok {
		fields = append(fields, slog.Int64(FieldFileID, id))
	}
	if id, ok := ctx.Value(jobIDKey).(int64); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if kind, ok := ctx.Value(kindKey).(string); ok {
		fields = append(fields, slog.String(FieldKind, kind))
	}
	if rid, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
