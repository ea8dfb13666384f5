package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Tureluurtje/Pulse/cmd/identity"
	"github.com/Tureluurtje/Pulse/cmd/internal/auth/session"
	"github.com/Tureluurtje/Pulse/cmd/security/password"
	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

// Sessions is the part of session.Service the HTTP layer uses.
type Sessions interface {
	Register(ctx context.Context, email, password string) (session.TokenPair, error)
	Login(ctx context.Context, email, password string) (session.TokenPair, error)
	Authenticate(ctx context.Context, accessToken string) (token.Claims, error)
	Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error)
	Logout(ctx context.Context, userID string) error
}

// Handler maps JSON requests onto Sessions and errors onto status codes.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	throttle *loginThrottle
	now      func() time.Time
}

type HandlerOption func(*Handler)

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(sessions Sessions, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		sessions: sessions,
		throttle: newLoginThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires the auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/validate", h.handleValidate)
	mux.HandleFunc("/auth/logout", h.handleLogout)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	pair, err := h.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrIdentityConflict):
			writeError(w, http.StatusConflict, "identity_exists", "email already registered")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_email", "invalid email address")
		case errors.Is(err, password.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, "password_too_short", "password is too short")
		case errors.Is(err, password.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, "password_too_long", "password is too long")
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password_weak", "password is too weak")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toTokenResponse(pair))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	if blocked, retryAfter := h.throttle.Blocked(ip, now); blocked {
		h.log.Info("auth.login.rate_limited", "ip", ip.String())
		writeRateLimited(w, retryAfter)
		return
	}

	pair, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			h.throttle.Fail(ip, now)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.throttle.Reset(ip)
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			h.logUnauthenticated("auth.refresh.rejected", err)
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid refresh token")
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

// handleValidate accepts the token as a Bearer header or as {"access_token": ...}.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := bearerToken(r)
	if raw == "" && r.ContentLength != 0 {
		var req validateRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		raw = strings.TrimSpace(req.AccessToken)
	}

	claims, err := h.sessions.Authenticate(r.Context(), raw)
	if err != nil {
		h.logUnauthenticated("auth.validate.rejected", err)
		writeJSON(w, http.StatusUnauthorized, validateResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, toValidateResponse(claims))
}

// handleLogout also answers GET for clients that log out with a plain link.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Logout(r.Context(), claims.Subject); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return token.Claims{}, false
	}
	claims, err := h.sessions.Authenticate(r.Context(), raw)
	if err != nil {
		h.logUnauthenticated("auth.request.rejected", err)
		writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
		return token.Claims{}, false
	}
	return claims, true
}

// logUnauthenticated keeps the failure reason in logs only.
func (h *Handler) logUnauthenticated(event string, err error) {
	reason := "error"
	var ue *session.UnauthenticatedError
	if errors.As(err, &ue) {
		reason = ue.Reason()
	}
	h.log.Info(event, "reason", reason)
}
