package storage

import "context"

type ctxKey int

const (
	sessionKey ctxKey = iota
	visitorKey
)

// WithSession pins the session and visitor ids for a request.
func WithSession(ctx context.Context, sessionID, visitorID string) context.Context {
	ctx = context.WithValue(ctx, sessionKey, sessionID)
	return context.WithValue(ctx, visitorKey, visitorID)
}

// SessionFromContext returns the session id, if any.
func SessionFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionKey).(string)
	return v
}

// VisitorFromContext returns the persistent visitor id, if any.
func VisitorFromContext(ctx context.Context) string {
	v, _ := ctx.Value(visitorKey).(string)
	return v
}
