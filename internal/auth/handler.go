package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// SnapshotStore opens and discards the permission cache tied to a session.
type SnapshotStore interface {
	Open(ctx context.Context, sessionID string, userID int64, expiresAt time.Time) (*permcache.Cache, error)
	Close(sessionID string)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	snapshots      SnapshotStore
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, snapshots SnapshotStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		snapshots:      snapshots,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.showSession)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type sessionResponse struct {
	Authenticated bool                `json:"authenticated"`
	UserID        int64               `json:"user_id,omitempty"`
	CSRFToken     string              `json:"csrf_token"`
	Permissions   *permcache.Snapshot `json:"permissions,omitempty"`
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		h.logger.Error("session missing", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	body := sessionResponse{CSRFToken: token}
	if userID, ok := shared.SessionUserID(r.Context()); ok {
		body.Authenticated = true
		body.UserID = userID
		if cache := permcache.FromContext(r.Context()); cache != nil {
			body.Permissions = cache.Snapshot()
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	var input LoginInput
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	user, err := h.service.Authenticate(r.Context(), input.Email, input.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if sess.User() != "" {
		h.snapshots.Close(sess.ID)
	}
	h.sessionManager.Rotate(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	token, err := h.csrfManager.RotateToken(sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}

	body := sessionResponse{Authenticated: true, UserID: user.ID, CSRFToken: token}
	cache, err := h.snapshots.Open(r.Context(), sess.ID, user.ID, expiresAt)
	if err != nil {
		// the cache stays registered and denies until a refresh succeeds
		h.logger.Warn("initial permission snapshot", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	if cache != nil {
		body.Permissions = cache.Snapshot()
	}
	h.logger.Info("user logged in", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		h.snapshots.Close(sess.ID)
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShowSessionForTest exposes the session endpoint for tests.
func (h *Handler) ShowSessionForTest(w http.ResponseWriter, r *http.Request) {
	h.showSession(w, r)
}

// HandleLoginForTest exposes the login handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}
