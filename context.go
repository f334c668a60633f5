package mongolite

import "context"

type ctxKey int

const sessionKey ctxKey = 0

// WithSession attaches the session to the context so collection operations
// participate in its transaction
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext returns the session attached to the context, or nil
func SessionFromContext(ctx context.Context) *Session {
	session, ok := ctx.Value(sessionKey).(*Session)
	if !ok {
		return nil
	}
	return session
}
