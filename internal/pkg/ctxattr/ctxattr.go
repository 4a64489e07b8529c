// Package ctxattr stores log attributes in a context.Context.
// The logger reads the attributes and adds them to each message logged with the context.
package ctxattr

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

type ctxKey string

const attributesCtxKey = ctxKey("ctxattr")

// ContextWith returns a new context with the attributes merged to attributes from the parent context.
// A later value with the same key overwrites the previous one.
func ContextWith(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	set := Attributes(ctx)
	merged := append(set.ToSlice(), attrs...)
	newSet := attribute.NewSet(merged...)
	return context.WithValue(ctx, attributesCtxKey, &newSet)
}

// Attributes returns attributes stored in the context, or an empty set.
func Attributes(ctx context.Context) *attribute.Set {
	if set, ok := ctx.Value(attributesCtxKey).(*attribute.Set); ok {
		return set
	}
	empty := attribute.NewSet()
	return &empty
}
