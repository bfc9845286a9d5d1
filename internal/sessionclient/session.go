package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultRefreshTimeout = 10 * time.Second

type Phase int

const (
	PhaseUnauthenticated Phase = iota
	PhaseAuthenticated
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// Tokens is the credential pair handed out by the auth endpoints.
type Tokens struct {
	Subject          string    `json:"subject"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthAPI is the server surface a Session needs. *API implements it.
type AuthAPI interface {
	Login(ctx context.Context, identifier, password string) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	Logout(ctx context.Context, refreshToken string) error
}

type EventType int

const (
	EventCredentialsUpdated EventType = iota + 1
	EventSessionTerminated
	EventRefreshFailed
)

func (t EventType) String() string {
	switch t {
	case EventCredentialsUpdated:
		return "credentials_updated"
	case EventSessionTerminated:
		return "session_terminated"
	case EventRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

type Event struct {
	Type   EventType
	Tokens Tokens
	Err    error
}

type Options struct {
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

type refreshCall struct {
	done   chan struct{}
	tokens Tokens
	err    error
	epoch  uint64
}

// Session owns one user's credentials and makes sure at most one refresh is
// in flight at a time. Every caller that hits an expired access token while
// a refresh is running waits on that same refresh.
type Session struct {
	api            AuthAPI
	refreshTimeout time.Duration
	log            *slog.Logger

	mu       sync.Mutex
	phase    Phase
	tokens   Tokens
	inflight *refreshCall
	// epoch increments whenever the credential lineage is discarded, so a
	// refresh started under an older epoch cannot reinstall tokens.
	epoch   uint64
	closed  bool
	subs    map[int]func(Event)
	nextSub int

	// queue holds deliveries in the order their transitions happened under
	// mu; whoever finds draining unset runs them with mu released.
	queue    []func()
	draining bool
}

func NewSession(api AuthAPI, opts Options) *Session {
	s := &Session{
		api:            api,
		refreshTimeout: opts.RefreshTimeout,
		log:            opts.Logger,
		subs:           make(map[int]func(Event)),
	}
	if s.refreshTimeout <= 0 {
		s.refreshTimeout = defaultRefreshTimeout
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Session) Login(ctx context.Context, identifier, password string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	tokens, err := s.api.Login(ctx, identifier, password)
	if err != nil {
		return err
	}
	return s.Restore(tokens)
}

// Restore installs a previously obtained pair, replacing any current
// lineage. Callers waiting on a refresh for the old lineage continue with
// this pair, and the refresh result is revoked when it arrives.
func (s *Session) Restore(tokens Tokens) error {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return fmt.Errorf("restore session: %w", ErrUnauthenticated)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.supersedeLocked(tokens)
	s.tokens = tokens
	s.phase = PhaseAuthenticated
	s.publishLocked(Event{Type: EventCredentialsUpdated, Tokens: tokens})
	s.unlockAndFlush()
	return nil
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Tokens returns the installed pair. ok is false when unauthenticated.
func (s *Session) Tokens() (Tokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseUnauthenticated {
		return Tokens{}, false
	}
	return s.tokens, true
}

func (s *Session) AccessToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.phase == PhaseUnauthenticated {
		return "", ErrUnauthenticated
	}
	return s.tokens.AccessToken, nil
}

// Do runs op with the current access token. When op reports
// ErrAccessExpired the session refreshes (or joins the refresh already
// running) and replays op once with the new token. ErrAccessInvalid is
// returned as is.
func (s *Session) Do(ctx context.Context, op func(ctx context.Context, accessToken string) error) error {
	access, err := s.AccessToken()
	if err != nil {
		return err
	}
	err = op(ctx, access)
	if !errors.Is(err, ErrAccessExpired) {
		return err
	}
	fresh, err := s.AwaitRefresh(ctx, access)
	if err != nil {
		return err
	}
	return op(ctx, fresh)
}

// AwaitRefresh returns an access token newer than staleAccess. If one is
// already installed it is returned right away; otherwise the caller joins
// the in-flight refresh, starting it if there is none.
func (s *Session) AwaitRefresh(ctx context.Context, staleAccess string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	var call *refreshCall
	switch s.phase {
	case PhaseUnauthenticated:
		s.mu.Unlock()
		return "", ErrUnauthenticated
	case PhaseAuthenticated:
		if s.tokens.AccessToken != staleAccess {
			access := s.tokens.AccessToken
			s.mu.Unlock()
			return access, nil
		}
		call = s.startRefreshLocked()
		recordClientRefresh(ctx, "started")
	case PhaseRefreshing:
		call = s.inflight
		recordClientRefresh(ctx, "joined")
	}
	s.mu.Unlock()

	select {
	case <-call.done:
		if call.err != nil {
			return "", call.err
		}
		return call.tokens.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) startRefreshLocked() *refreshCall {
	call := &refreshCall{done: make(chan struct{}), epoch: s.epoch}
	s.inflight = call
	s.phase = PhaseRefreshing
	go s.runRefresh(call, s.tokens.RefreshToken)
	return call
}

func (s *Session) runRefresh(call *refreshCall, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()
	tokens, err := s.api.Refresh(ctx, refreshToken)
	s.completeRefresh(call, tokens, err)
}

func (s *Session) completeRefresh(call *refreshCall, tokens Tokens, err error) {
	s.mu.Lock()
	if s.inflight != call || s.epoch != call.epoch {
		s.mu.Unlock()
		recordClientRefresh(context.Background(), "discarded")
		if err == nil {
			s.discardLateTokens(tokens)
		}
		return
	}
	s.inflight = nil

	var events []Event
	switch {
	case err == nil:
		s.tokens = tokens
		s.phase = PhaseAuthenticated
		call.tokens = tokens
		events = append(events, Event{Type: EventCredentialsUpdated, Tokens: tokens})
		recordClientRefresh(context.Background(), "rotated")
	case isRefreshRejected(err):
		s.tokens = Tokens{}
		s.phase = PhaseUnauthenticated
		s.epoch++
		call.err = err
		events = append(events,
			Event{Type: EventRefreshFailed, Err: err},
			Event{Type: EventSessionTerminated, Err: err},
		)
		recordClientRefresh(context.Background(), "rejected")
	default:
		s.phase = PhaseAuthenticated
		call.err = fmt.Errorf("%w: %w", ErrRefreshTransient, err)
		events = append(events, Event{Type: EventRefreshFailed, Err: call.err})
		recordClientRefresh(context.Background(), "transient")
	}
	for _, ev := range events {
		s.publishLocked(ev)
	}
	// Waiters are released only after subscribers have seen the outcome.
	s.queue = append(s.queue, func() { close(call.done) })
	s.unlockAndFlush()

	if call.err != nil {
		s.log.Warn("session refresh failed", "error", call.err, "terminal", isRefreshRejected(call.err))
	}
}

// discardLateTokens revokes a pair that was minted for a lineage the user
// already left, so it does not stay valid on the server.
func (s *Session) discardLateTokens(tokens Tokens) {
	if tokens.RefreshToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()
	if err := s.api.Logout(ctx, tokens.RefreshToken); err != nil {
		s.log.Debug("revoke late refresh result failed", "error", err)
	}
}

// Logout drops local credentials first, then revokes the refresh token on
// the server. Local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.tokens.RefreshToken
	wasAuthenticated := s.phase != PhaseUnauthenticated
	s.abandonLocked(ErrSessionClosed)
	s.tokens = Tokens{}
	s.phase = PhaseUnauthenticated
	if wasAuthenticated {
		s.publishLocked(Event{Type: EventSessionTerminated, Err: ErrSessionClosed})
	}
	s.unlockAndFlush()

	if refreshToken == "" {
		return nil
	}
	if err := s.api.Logout(ctx, refreshToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Close ends the session for good without contacting the server.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	wasAuthenticated := s.phase != PhaseUnauthenticated
	s.abandonLocked(ErrSessionClosed)
	s.tokens = Tokens{}
	s.phase = PhaseUnauthenticated
	s.closed = true
	if wasAuthenticated {
		s.publishLocked(Event{Type: EventSessionTerminated, Err: ErrSessionClosed})
	}
	s.unlockAndFlush()
}

func (s *Session) abandonLocked(reason error) {
	if s.inflight != nil {
		s.inflight.err = reason
		close(s.inflight.done)
		s.inflight = nil
	}
	s.epoch++
}

// supersedeLocked ends the in-flight refresh with a pair installed from
// outside, so its waiters continue with that pair instead of failing.
func (s *Session) supersedeLocked(tokens Tokens) {
	if s.inflight != nil {
		s.inflight.tokens = tokens
		s.inflight.err = nil
		close(s.inflight.done)
		s.inflight = nil
	}
	s.epoch++
}

// Subscribe registers fn for session events. Callbacks run synchronously on
// the goroutine that caused the transition and must not block.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) publishLocked(ev Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.queue = append(s.queue, func() {
		for _, fn := range subs {
			fn(ev)
		}
	})
}

// unlockAndFlush releases mu and runs queued deliveries in order. If
// another goroutine is already draining, it delivers this work too.
func (s *Session) unlockAndFlush() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
