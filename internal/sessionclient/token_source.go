package sessionclient

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

const tokenSourceEarlyExpiry = 10 * time.Second

type sessionTokenSource struct {
	session *Session
	now     func() time.Time
}

// TokenSource exposes the session as an oauth2.TokenSource. A token close to
// its expiry is refreshed through the session's single-flight refresh, so
// oauth2 transports and Session.Do never rotate the same pair twice.
func (s *Session) TokenSource() oauth2.TokenSource {
	return &sessionTokenSource{session: s, now: time.Now}
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	tokens, ok := ts.session.Tokens()
	if !ok {
		return nil, ErrUnauthenticated
	}
	if !tokens.AccessExpiresAt.IsZero() && ts.now().Add(tokenSourceEarlyExpiry).After(tokens.AccessExpiresAt) {
		ctx, cancel := context.WithTimeout(context.Background(), ts.session.refreshTimeout)
		defer cancel()
		if _, err := ts.session.AwaitRefresh(ctx, tokens.AccessToken); err != nil {
			return nil, err
		}
		if tokens, ok = ts.session.Tokens(); !ok {
			return nil, ErrUnauthenticated
		}
	}
	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: tokens.RefreshToken,
		Expiry:       tokens.AccessExpiresAt,
	}, nil
}
