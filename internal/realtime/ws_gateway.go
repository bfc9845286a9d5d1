package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/security"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

const (
	wsDefaultWriteTimeout     = 5 * time.Second
	wsDefaultHeartbeat        = 30 * time.Second
	wsDefaultHeartbeatTimeout = 10 * time.Second
	wsMaxPingFailures         = 3
	wsMaxFrameBytes           = 64 << 10
	wsCloseGrace              = time.Second
)

type AccessVerifier interface {
	VerifyAccessRequest(ctx context.Context, raw string) (*security.Claims, error)
}

type Options struct {
	AllowedOrigins    []string
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Gateway authenticates websocket handshakes and keeps each connection bound
// to the lifetime of the access token it was opened with.
type Gateway struct {
	log            *slog.Logger
	verifier       AccessVerifier
	originPatterns []string
	writeTimeout   time.Duration
	heartbeatEvery time.Duration
	now            func() time.Time
}

func NewGateway(log *slog.Logger, verifier AccessVerifier, opts Options) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		log:            log,
		verifier:       verifier,
		originPatterns: deriveOriginPatterns(opts.AllowedOrigins),
		writeTimeout:   opts.WriteTimeout,
		heartbeatEvery: opts.HeartbeatInterval,
		now:            time.Now,
	}
	if g.writeTimeout <= 0 {
		g.writeTimeout = wsDefaultWriteTimeout
	}
	if g.heartbeatEvery <= 0 {
		g.heartbeatEvery = wsDefaultHeartbeat
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("access_token"))
	if raw == "" {
		raw = service.BearerToken(r.Header.Get("Authorization"))
	}
	claims, err := g.verifier.VerifyAccessRequest(r.Context(), raw)
	observability.RecordAccessTokenValidation(r.Context(), service.AccessOutcome(err), "ws")
	if err != nil {
		g.rejectHandshake(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.originPatterns})
	if err != nil {
		observability.RecordRealtimeConnection(r.Context(), "accept_failed")
		g.log.Info("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	connID := ulid.Make().String()
	observability.RecordRealtimeConnection(r.Context(), "accepted")
	g.log.Info("ws.connected", "connection_id", connID, "subject", claims.Subject)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := g.send(ctx, conn, TypeSessionReady, SessionReadyPayload{
		ConnectionID:    connID,
		Subject:         claims.Subject,
		AccessExpiresAt: expiresAt,
	}); err != nil {
		_ = conn.CloseNow()
		return
	}

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		g.watchdog(ctx, conn, connID, expiresAt)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, connID)
	}()

	g.readLoop(ctx, conn, connID)
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	<-watchdogDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.disconnected", "connection_id", connID)
}

func (g *Gateway) rejectHandshake(w http.ResponseWriter, r *http.Request, err error) {
	code := response.CodeAccessTokenInvalid
	if errors.Is(err, service.ErrAccessExpired) {
		code = response.CodeAccessTokenExpired
	} else {
		observability.Audit(r, "ws.handshake.rejected", "outcome", service.AccessOutcome(err))
	}
	observability.RecordRealtimeConnection(r.Context(), "rejected")
	response.Unauthorized(w, r, code, "websocket handshake requires a valid access token")
}

// watchdog ends the connection when the access token it was opened with expires.
func (g *Gateway) watchdog(ctx context.Context, conn *websocket.Conn, connID string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		return
	}
	timer := time.NewTimer(expiresAt.Sub(g.now()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	observability.RecordRealtimeAuthError(ctx, response.CodeAccessTokenExpired)
	observability.AuditContext(ctx, "ws.access_token.expired", "connection_id", connID)
	_ = g.send(ctx, conn, TypeAuthError, ErrorPayload{
		Code:    response.CodeAccessTokenExpired,
		Message: "access token expired, reconnect with a refreshed token",
	})
	_ = conn.Close(CloseAuthExpired, "access token expired")
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, connID string) {
	t := time.NewTicker(g.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, wsDefaultHeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("ws.ping.fail", "connection_id", connID, "failures", failures, "err", err)
			if failures >= wsMaxPingFailures {
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if !isExpectedReadErr(err) {
				g.log.Info("ws.read.fail", "connection_id", connID, "err", err)
			}
			return
		}
		if mt != websocket.MessageText {
			_ = g.send(ctx, conn, TypeError, ErrorPayload{Code: "unsupported", Message: "text frames only"})
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = g.send(ctx, conn, TypeError, ErrorPayload{Code: "bad_json", Message: "invalid JSON"})
			continue
		}
		switch env.Type {
		case TypePing:
			_ = g.send(ctx, conn, TypePong, nil)
		case TypeEcho:
			_ = g.send(ctx, conn, TypeEcho, env.Payload)
		default:
			_ = g.send(ctx, conn, TypeError, ErrorPayload{Code: "unsupported", Message: "unsupported type: " + env.Type})
		}
	}
}

func (g *Gateway) send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	env, err := NewEnvelope(typ, payload, g.now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}

func isExpectedReadErr(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}

// deriveOriginPatterns turns allowed origins into host patterns for websocket.Accept,
// which matches against the Origin host including any port.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
		if h != "*" {
			out = append(out, h+":*")
		}
	}
	return out
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
