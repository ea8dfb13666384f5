// Package main provides a CI-friendly smoke test for a running Pulse server.
//
// It validates:
//   - register over HTTP for two fresh users
//   - websocket handshake with a Bearer header and with ?token=
//   - presence online/offline fanout between the two users
//   - ping -> pong
//   - /auth/validate, /auth/logout and refresh revocation
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

type frame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type smokeClient struct {
	name string
	user tokenPair
	conn *websocket.Conn

	inbox chan frame
	errCh chan error
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		pw      = flag.String("password", "smoke-pass-1", "Password for the generated users")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	baseURL, err := parseBase(*base)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}
	stamp := time.Now().UnixNano()

	ua := mustRegister(root, hc, baseURL, fmt.Sprintf("smoke-a-%d@pulse.test", stamp), *pw)
	ub := mustRegister(root, hc, baseURL, fmt.Sprintf("smoke-b-%d@pulse.test", stamp), *pw)
	if *verbose {
		fmt.Printf("registered: A=%s B=%s\n", ua.UserID, ub.UserID)
	}

	a := mustConnect(root, "A", baseURL, *origin, ua, true, *timeout)
	defer closeWS(a.conn)
	a.mustReadPresence(root, ua.UserID, "online", *timeout)

	b := mustConnect(root, "B", baseURL, *origin, ub, false, *timeout)
	b.mustReadPresence(root, ub.UserID, "online", *timeout)
	a.mustReadPresence(root, ub.UserID, "online", *timeout)

	mustWrite(root, a.conn, map[string]string{"type": "ping"}, *timeout)
	a.mustReadType(root, "pong", *timeout)

	mustValidate(root, hc, baseURL, ub)

	closeWS(b.conn)
	a.mustReadPresence(root, ub.UserID, "offline", *timeout)

	mustLogout(root, hc, baseURL, ua)
	if code := postJSON(root, hc, baseURL, "/auth/refresh", "", map[string]string{"refresh_token": ua.RefreshToken}, nil); code != http.StatusUnauthorized {
		fatalf("refresh after logout: status=%d want=401", code)
	}

	fmt.Printf("OK: A=%s B=%s\n", ua.UserID, ub.UserID)
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func mustRegister(ctx context.Context, hc *http.Client, base *url.URL, email, pw string) tokenPair {
	var pair tokenPair
	body := map[string]string{"email": email, "password": pw}
	if code := postJSON(ctx, hc, base, "/auth/register", "", body, &pair); code != http.StatusCreated {
		fatalf("register %s: status=%d", email, code)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.UserID == "" {
		fatalf("register %s: incomplete token pair", email)
	}
	return pair
}

func mustValidate(ctx context.Context, hc *http.Client, base *url.URL, u tokenPair) {
	var out struct {
		Active  bool   `json:"active"`
		Subject string `json:"subject"`
	}
	if code := postJSON(ctx, hc, base, "/auth/validate", u.AccessToken, nil, &out); code != http.StatusOK {
		fatalf("validate: status=%d", code)
	}
	if !out.Active || out.Subject != u.UserID {
		fatalf("validate: active=%t subject=%q want %q", out.Active, out.Subject, u.UserID)
	}
}

func mustLogout(ctx context.Context, hc *http.Client, base *url.URL, u tokenPair) {
	if code := postJSON(ctx, hc, base, "/auth/logout", u.AccessToken, nil, nil); code != http.StatusNoContent {
		fatalf("logout: status=%d", code)
	}
}

// postJSON returns the status code; out is decoded only on 2xx.
func postJSON(ctx context.Context, hc *http.Client, base *url.URL, path, bearer string, body, out any) int {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String()+path, rd)
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func mustConnect(parent context.Context, name string, base *url.URL, origin string, u tokenPair, header bool, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	target := wsURL(base)
	if header {
		h.Set("Authorization", "Bearer "+u.AccessToken)
	} else {
		target += "?token=" + url.QueryEscape(u.AccessToken)
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		user:  u,
		conn:  conn,
		inbox: make(chan frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustReadUntil skips frames until match returns true.
func (c *smokeClient) mustReadUntil(parent context.Context, what string, stepTimeout time.Duration, match func(frame) bool) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s): %v", what, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %s (%s): %v", what, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s (%s)", what, c.name)
			}
			if match(f) {
				return f
			}
		}
	}
}

func (c *smokeClient) mustReadType(parent context.Context, typ string, stepTimeout time.Duration) frame {
	return c.mustReadUntil(parent, fmt.Sprintf("%q", typ), stepTimeout, func(f frame) bool {
		return f.Type == typ
	})
}

func (c *smokeClient) mustReadPresence(parent context.Context, userID, status string, stepTimeout time.Duration) {
	what := fmt.Sprintf("presence %s=%s", userID, status)
	c.mustReadUntil(parent, what, stepTimeout, func(f frame) bool {
		return f.Type == "presence" && f.UserID == userID && f.Status == status
	})
}

func mustWrite(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
