package log

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type correlationIDType int

const (
	requestIDKey correlationIDType = iota
	requestFieldsKey
)

// WithRequestID returns a context which knows its request ID.
// A request ID tracks the lifecycle of a single request across all execution contexts,
// e.g. an inbound peer message from the pubsub validator until it is applied to a replica.
func WithRequestID(ctx context.Context, requestID string, fields ...zap.Field) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	if len(fields) > 0 {
		ctx = context.WithValue(ctx, requestFieldsKey, fields)
	}
	return ctx
}

// WithNewRequestID does the same thing as WithRequestID but generates a new, random request ID.
func WithNewRequestID(ctx context.Context, fields ...zap.Field) context.Context {
	return WithRequestID(ctx, uuid.NewString(), fields...)
}

// ExtractRequestID extracts the request id from a context.
func ExtractRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// ContextFields returns zap fields stored in a context: request id and any extra fields.
func ContextFields(ctx context.Context) []zap.Field {
	id, ok := ExtractRequestID(ctx)
	if !ok {
		return nil
	}
	fields := []zap.Field{zap.String("request_id", id)}
	if extra, ok := ctx.Value(requestFieldsKey).([]zap.Field); ok {
		fields = append(fields, extra...)
	}
	return fields
}

// Ctx returns a logger annotated with fields stored in ctx.
func Ctx(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
