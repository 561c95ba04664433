package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionKeyPrefix namespaces session records in Redis.
const SessionKeyPrefix = "access:session:"

// SessionManager stores cookie sessions in Redis. A session id is only ever
// issued by the manager; ids presented by clients that Redis does not know
// are replaced.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session is the per-request view of one session record.
type Session struct {
	ID string

	values   map[string]string
	userID   string
	authAt   time.Time
	previous string

	stored    bool
	dirty     bool
	destroyed bool
}

type sessionRecord struct {
	Values map[string]string `json:"values,omitempty"`
	UserID string            `json:"user_id,omitempty"`
	AuthAt time.Time         `json:"auth_at,omitempty"`
}

// NewSessionManager constructs a SessionManager. Cookies are marked Secure
// when secure is set.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl, secure: secure}
}

// Load returns the session named by the request cookie, or a fresh one.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && cookie.Value == "") {
		return newSession(), nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := sm.client.Get(ctx, SessionKeyPrefix+cookie.Value).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return newSession(), nil
	case err != nil:
		return nil, err
	}
	var rec sessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	sess := &Session{
		ID:     cookie.Value,
		values: rec.Values,
		userID: rec.UserID,
		authAt: rec.AuthAt,
		stored: true,
	}
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	return sess, nil
}

// Commit writes pending changes and the cookie. The delete of a rotated-away
// id and the write of the new record go out in one transaction.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}
	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.keys(sess, true)...).Err(); err != nil {
			return err
		}
		sess.previous = ""
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	if !sess.stored && sess.userID == "" && len(sess.values) == 0 {
		return nil
	}
	if sess.dirty || !sess.stored || sess.previous != "" {
		data, err := json.Marshal(sessionRecord{Values: sess.values, UserID: sess.userID, AuthAt: sess.authAt})
		if err != nil {
			return err
		}
		_, err = sm.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if sess.previous != "" {
				pipe.Del(ctx, SessionKeyPrefix+sess.previous)
			}
			pipe.Set(ctx, SessionKeyPrefix+sess.ID, data, sm.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		sess.previous = ""
		sess.stored = true
		sess.dirty = false
	}
	http.SetCookie(w, sm.cookie(sess.ID, 0))
	return nil
}

// Rotate issues a new id for the session and marks the user authenticated
// now. The old record is removed on commit.
func (sm *SessionManager) Rotate(sess *Session) {
	if sess == nil {
		return
	}
	if sess.stored && sess.previous == "" {
		sess.previous = sess.ID
	}
	sess.ID = uuid.NewString()
	sess.stored = false
	sess.dirty = true
	sess.authAt = time.Now().UTC()
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) keys(sess *Session, withPrevious bool) []string {
	keys := []string{SessionKeyPrefix + sess.ID}
	if withPrevious && sess.previous != "" {
		keys = append(keys, SessionKeyPrefix+sess.previous)
	}
	return keys
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

func newSession() *Session {
	return &Session{ID: uuid.NewString(), values: make(map[string]string)}
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with a user ID.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

// AuthenticatedAt reports when the session was last rotated by a login.
func (s *Session) AuthenticatedAt() time.Time {
	return s.authAt
}

// Destroyed reports whether the session was ended during this request.
func (s *Session) Destroyed() bool {
	return s.destroyed
}
