package auth

import (
	"context"
)

type contextKey string

const resultKey contextKey = "auth_result"

// WithResult returns a context carrying the authenticated participant.
func WithResult(ctx context.Context, res Result) context.Context {
	return context.WithValue(ctx, resultKey, res)
}

// ResultFromContext returns the authenticated participant, if any.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey).(Result)
	return res, ok
}
