package transport

import (
	"context"

	"github.com/harun/memstream/internal/tracing"
)

func withConnectionID(ctx context.Context, id string) context.Context {
	return tracing.WithConnectionID(ctx, id)
}

// ConnectionIDFromContext returns the id of the connection a message arrived
// on, or "" when the context did not come from the inbound path.
func ConnectionIDFromContext(ctx context.Context) string {
	return tracing.GetConnectionID(ctx)
}
