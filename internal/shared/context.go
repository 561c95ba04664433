package shared

import (
	"context"
	"strconv"
)

type ctxKey int

const sessionKey ctxKey = iota

// ContextWithSession returns ctx carrying sess.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the request session, or nil outside the session
// middleware.
func SessionFromContext(ctx context.Context) *Session {
	if sess, ok := ctx.Value(sessionKey).(*Session); ok {
		return sess
	}
	return nil
}

// SessionUserID returns the id of the user signed into the request's session.
func SessionUserID(ctx context.Context) (int64, bool) {
	return SessionFromContext(ctx).UserID()
}

// UserID parses the stored user id. Anonymous sessions and ids that are not
// positive integers report false.
func (s *Session) UserID() (int64, bool) {
	if s == nil || s.userID == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s.userID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
