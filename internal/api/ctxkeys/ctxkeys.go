// Package ctxkeys holds the typed context keys shared by the api packages.
// It is a leaf package so middleware and handlers can both import it.
package ctxkeys

import "context"

// Key is the named type of every API context key; context.Value compares
// type and value, so string keys from other packages cannot collide.
type Key string

const (
	// Subject is the authenticated caller, taken from the token's sub claim.
	Subject Key = "subject"
	// Scope is the token's scope claim.
	Scope Key = "scope"
)

// WithValue stores a string under a typed key.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// String reads a string stored with WithValue.
func String(ctx context.Context, key Key) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
