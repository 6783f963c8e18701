package observability

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

// ContextWithCorrelation attaches the correlation identifier to the provided
// context, generating one when empty.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return context.WithValue(ctx, correlationKey, correlationID)
}

// CorrelationIDFromContext extracts the correlation identifier from context, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value := ctx.Value(correlationKey); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// Logger returns base enriched with the correlation identifier bound to ctx.
func Logger(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	if correlation := CorrelationIDFromContext(ctx); correlation != "" {
		base = base.With().Str("correlation_id", correlation).Logger()
	}
	return &base
}
