package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Tureluurtje/Pulse/cmd/security/token"
)

const (
	wsCloseGrace      = time.Second
	wsPresenceTimeout = 5 * time.Second
	wsMaxQueryToken   = 4096
)

// Authenticator validates access tokens presented at admission.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (token.Claims, error)
}

// Gateway is the websocket entrypoint. It authenticates the handshake, admits the socket
// into the Registry and keeps it alive until either side goes away.
type Gateway struct {
	log  *slog.Logger
	reg  *Registry
	auth Authenticator
	cfg  GatewayConfig

	// Patterns handed to websocket.Accept so it agrees with enforceOrigin.
	originPatterns []string

	presence userLocks

	now func() time.Time
}

type GatewayOption func(*Gateway)

func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGateway(reg *Registry, auth Authenticator, cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		log:            slog.Default(),
		reg:            reg,
		auth:           auth,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	reg.onEmpty(func(userID string) { g.announce(userID, PresenceOffline) })
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	raw := presentedToken(r)
	if raw == "" {
		g.log.Info("ws.reject.unauthenticated", "reason", "missing", "remote", r.RemoteAddr)
		unauthorized(w)
		return
	}
	claims, err := g.auth.Authenticate(r.Context(), raw)
	if err != nil {
		g.log.Info("ws.reject.unauthenticated", "reason", rejectReason(err), "remote", r.RemoteAddr)
		unauthorized(w)
		return
	}
	userID := claims.Subject

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	g.serve(r.Context(), conn, userID)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ch := newWSChannel(conn, g.cfg.WriteTimeout)
	connID, first := g.reg.connect(userID, ch)
	g.log.Info("ws.connect", "user_id", userID, "conn_id", connID)

	if first {
		g.announce(userID, PresenceOnline)
	}

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			_, last := g.reg.disconnect(userID, connID)
			ch.Close()
			_ = conn.Close(code, reason)
			cancel()

			g.log.Info("ws.disconnect", "user_id", userID, "conn_id", connID, "reason", reason)
			if last {
				g.announce(userID, PresenceOffline)
			}
		})
	}
	defer shutdown(websocket.StatusNormalClosure, "bye")

	// The registry closes the channel when it evicts this connection.
	go func() {
		select {
		case <-ch.Done():
			shutdown(websocket.StatusGoingAway, "evicted")
		case <-ctx.Done():
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, connID, shutdown)
	}()

	rl := newRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if g.cfg.ReadIdleTimeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		}
		_, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusGoingAway, "idle")
			case errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break
		}

		if !rl.Allow(g.now()) {
			g.log.Info("ws.rate_limited", "user_id", userID, "conn_id", connID)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		g.handleInbound(ctx, ch, connID, data)
	}

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// handleInbound answers {"type":"ping"} and drops everything else; chat events travel over
// the HTTP API.
func (g *Gateway) handleInbound(ctx context.Context, ch *wsChannel, connID string, data []byte) {
	var in struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Type != "ping" {
		g.log.Debug("ws.inbound.ignored", "conn_id", connID, "bytes", len(data))
		return
	}
	if err := ch.Send(ctx, JSON(map[string]string{"type": "pong"})); err != nil {
		g.log.Debug("ws.pong.fail", "conn_id", connID, "err", err)
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, connID string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()

			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
			if failures >= g.cfg.MaxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// announce broadcasts a presence change. It runs on its own deadline so that a closing
// request context does not cut the offline event short.
//
// Announcements for one user are serialized and re-checked against the registry, so a
// connect racing a close can never leave "offline" as the last word for a connected user.
func (g *Gateway) announce(userID, status string) {
	unlock := g.presence.lock(userID)
	defer unlock()

	if online := len(g.reg.ConnectionsOf(userID)) > 0; online != (status == PresenceOnline) {
		g.log.Debug("ws.presence.stale", "user_id", userID, "status", status)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsPresenceTimeout)
	defer cancel()

	n := g.reg.Broadcast(ctx, presence(userID, status, g.now()))
	g.log.Debug("ws.presence", "user_id", userID, "status", status, "delivered", n)
}

// userLocks hands out one mutex per user id and forgets it once nobody holds it.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul := l.locks[userID]
	if ul == nil {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()

		l.mu.Lock()
		if ul.refs--; ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func presentedToken(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	tok := strings.TrimSpace(r.URL.Query().Get("token"))
	if len(tok) > wsMaxQueryToken {
		return ""
	}
	return tok
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return "expired"
	case errors.Is(err, token.ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="pulse"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", origin == a:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allow-list. Accept matches
// against host:port, so every host also gets a port wildcard.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		if h := originHost(a); h != "" {
			seen[h] = struct{}{}
		}
	}

	out := make([]string, 0, 2*len(seen))
	for h := range seen {
		out = append(out, h, h+":*")
	}
	sort.Strings(out)
	return out
}
