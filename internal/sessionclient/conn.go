package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
	"github.com/sandeepkv93/session-auth-core/internal/realtime"
)

const (
	defaultReconnectInitial = 250 * time.Millisecond
	defaultReconnectMax     = 15 * time.Second
	defaultInboundBuffer    = 64
	connWriteTimeout        = 5 * time.Second
)

type ConnOptions struct {
	Logger           *slog.Logger
	HTTPClient       *http.Client
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	InboundBuffer    int
}

// Conn keeps a persistent connection authenticated for the lifetime of a
// Session. Expired credentials are refreshed through the session and the
// connection is re-established with the new access token; network drops
// reconnect with exponential backoff. Inbound envelopes from every
// underlying connection arrive on the same channel.
type Conn struct {
	session *Session
	url     string
	log     *slog.Logger
	client  *http.Client
	initial time.Duration
	max     time.Duration

	messages chan realtime.Envelope

	mu      sync.Mutex
	current *websocket.Conn
}

func NewConn(session *Session, url string, opts ConnOptions) *Conn {
	c := &Conn{
		session: session,
		url:     url,
		log:     opts.Logger,
		client:  opts.HTTPClient,
		initial: opts.ReconnectInitial,
		max:     opts.ReconnectMax,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.initial <= 0 {
		c.initial = defaultReconnectInitial
	}
	if c.max <= 0 {
		c.max = defaultReconnectMax
	}
	buf := opts.InboundBuffer
	if buf <= 0 {
		buf = defaultInboundBuffer
	}
	c.messages = make(chan realtime.Envelope, buf)
	return c
}

// Messages is closed when Run returns.
func (c *Conn) Messages() <-chan realtime.Envelope {
	return c.messages
}

func (c *Conn) Send(ctx context.Context, typ string, payload any) error {
	c.mu.Lock()
	ws := c.current
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	env, err := realtime.NewEnvelope(typ, payload, time.Now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, connWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, b)
}

// Run dials and keeps the connection alive until ctx is done, the session
// terminates, or the server rejects the access token as invalid. It returns
// the reason: ctx's error, the session termination error, or
// ErrAccessInvalid. Run must be called at most once.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.messages)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	unsubscribe := c.session.Subscribe(func(ev Event) {
		if ev.Type == EventSessionTerminated {
			cancel(ev.Err)
		}
	})
	defer unsubscribe()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = c.max
	bo.Reset()

	for {
		access, err := c.session.AccessToken()
		if err != nil {
			return err
		}
		ws, resp, err := websocket.Dial(ctx, c.url, c.dialOptions(access))
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			var authErr error
			if resp != nil {
				authErr = authFailure(resp)
			}
			switch {
			case errors.Is(authErr, ErrAccessInvalid):
				return ErrAccessInvalid
			case errors.Is(authErr, ErrAccessExpired):
				recordReconnect(ctx, "handshake_expired")
				if err := c.reauth(ctx, access, bo); err != nil {
					return err
				}
				continue
			}
			recordReconnect(ctx, "dial_failed")
			c.log.Debug("ws dial failed", "error", err)
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return context.Cause(ctx)
			}
			continue
		}

		bo.Reset()
		reason := c.serve(ctx, ws)
		switch {
		case ctx.Err() != nil:
			return context.Cause(ctx)
		case errors.Is(reason, ErrAccessInvalid):
			return ErrAccessInvalid
		case errors.Is(reason, ErrAccessExpired):
			recordReconnect(ctx, "auth_expired")
			if err := c.reauth(ctx, access, bo); err != nil {
				return err
			}
		default:
			recordReconnect(ctx, "dropped")
			c.log.Debug("ws connection dropped", "error", reason)
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return context.Cause(ctx)
			}
		}
	}
}

func (c *Conn) dialOptions(access string) *websocket.DialOptions {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+access)
	return &websocket.DialOptions{HTTPClient: c.client, HTTPHeader: h}
}

// reauth waits for a token newer than stale. Transient refresh failures are
// retried with backoff; terminal ones end Run.
func (c *Conn) reauth(ctx context.Context, stale string, bo *backoff.ExponentialBackOff) error {
	for {
		_, err := c.session.AwaitRefresh(ctx, stale)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if !errors.Is(err, ErrRefreshTransient) {
			return err
		}
		c.log.Info("ws reauth deferred", "error", err)
		if !sleepCtx(ctx, bo.NextBackOff()) {
			return context.Cause(ctx)
		}
	}
}

func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	c.setCurrent(ws)
	defer c.setCurrent(nil)
	defer ws.CloseNow()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case realtime.CloseAuthExpired:
				return ErrAccessExpired
			case realtime.CloseAuthInvalid:
				return ErrAccessInvalid
			}
			return err
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("ws frame ignored", "error", err)
			continue
		}
		if env.Type == realtime.TypeAuthError {
			var p realtime.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			if p.Code == response.CodeAccessTokenInvalid {
				return ErrAccessInvalid
			}
			return ErrAccessExpired
		}
		select {
		case c.messages <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) setCurrent(ws *websocket.Conn) {
	c.mu.Lock()
	c.current = ws
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
