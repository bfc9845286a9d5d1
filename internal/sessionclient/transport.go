package sessionclient

import (
	"errors"
	"io"
	"net/http"
)

// Transport authenticates outgoing requests with the session's access token.
// A 401 marked ACCESS_TOKEN_EXPIRED triggers the session refresh and the
// request is sent once more with the new token; requests whose body cannot
// be rewound (no GetBody) are not replayed.
type Transport struct {
	Session *Session
	Base    http.RoundTripper
}

func NewTransport(session *Session, base http.RoundTripper) *Transport {
	return &Transport{Session: session, Base: base}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	access, err := t.Session.AccessToken()
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}
	resp, err := t.send(req, access, nil)
	if err != nil {
		return nil, err
	}
	if !errors.Is(authFailure(resp), ErrAccessExpired) {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()

	fresh, err := t.Session.AwaitRefresh(req.Context(), access)
	if err != nil {
		return nil, err
	}
	var body io.ReadCloser
	if req.GetBody != nil {
		body, err = req.GetBody()
		if err != nil {
			return nil, err
		}
	}
	return t.send(req, fresh, body)
}

func (t *Transport) send(req *http.Request, access string, body io.ReadCloser) (*http.Response, error) {
	out := req.Clone(req.Context())
	if body != nil {
		out.Body = body
	}
	out.Header.Set("Authorization", "Bearer "+access)
	return t.base().RoundTrip(out)
}
