// Package api wires the orchestrator HTTP API: routing, middleware order
// and the handlers behind each route.
package api

import (
	"context"

	"github.com/matiasleandrokruk/nerve/internal/api/ctxkeys"
)

// WithSubject records the authenticated caller on ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return ctxkeys.WithValue(ctx, ctxkeys.Subject, subject)
}

// Subject returns the authenticated caller.
func Subject(ctx context.Context) (string, error) {
	sub, ok := ctxkeys.String(ctx, ctxkeys.Subject)
	if !ok {
		return "", ErrMissingSubject
	}
	return sub, nil
}
