package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/session-auth-core/internal/http/response"
)

const (
	maxResponseBytes  = 1 << 20
	defaultAPITimeout = 15 * time.Second
)

// API talks to the auth endpoints and maps their error codes onto the
// client error taxonomy.
type API struct {
	baseURL string
	client  *http.Client
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: defaultAPITimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *API) Register(ctx context.Context, username, email, password string) (Tokens, error) {
	var out Tokens
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := a.Call(ctx, "", http.MethodPost, "/auth/register", body, &out); err != nil {
		return Tokens{}, fmt.Errorf("register: %w", err)
	}
	return out, nil
}

// Login accepts a username or an email address as identifier.
func (a *API) Login(ctx context.Context, identifier, password string) (Tokens, error) {
	body := map[string]string{"password": password}
	if strings.Contains(identifier, "@") {
		body["email"] = identifier
	} else {
		body["username"] = identifier
	}
	var out Tokens
	if err := a.Call(ctx, "", http.MethodPost, "/auth/login", body, &out); err != nil {
		return Tokens{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

func (a *API) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var out Tokens
	body := map[string]string{"refresh_token": refreshToken}
	if err := a.Call(ctx, "", http.MethodPost, "/auth/refresh", body, &out); err != nil {
		return Tokens{}, fmt.Errorf("refresh: %w", err)
	}
	return out, nil
}

func (a *API) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	if err := a.Call(ctx, "", http.MethodPost, "/auth/logout", body, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Call sends a JSON request and decodes the envelope's data into out. A
// non-empty accessToken is sent as a bearer credential; 401 responses come
// back as ErrAccessExpired or ErrAccessInvalid so the call can run inside
// Session.Do.
func (a *API) Call(ctx context.Context, accessToken, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 || !env.Success {
		code, msg := "", ""
		if env.Error != nil {
			code, msg = env.Error.Code, env.Error.Message
		}
		if code == "" {
			code = resp.Header.Get(response.AuthErrorHeader)
		}
		return errorForCode(resp.StatusCode, code, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func errorForCode(status int, code, msg string) error {
	switch code {
	case response.CodeAccessTokenExpired:
		return ErrAccessExpired
	case response.CodeAccessTokenInvalid:
		return ErrAccessInvalid
	case response.CodeRefreshTokenNotFound:
		return ErrRefreshNotFound
	case response.CodeRefreshTokenRevoked:
		return ErrRefreshRevoked
	case response.CodeRefreshTokenExpired:
		return ErrRefreshExpired
	case response.CodeInvalidCredentials:
		return ErrInvalidCredentials
	case response.CodeUserExists:
		return ErrUserExists
	}
	return &APIError{Status: status, Code: code, Message: msg}
}

// authFailure classifies a response carrying X-Auth-Error. It returns nil
// for anything that is not an access-token rejection.
func authFailure(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	switch resp.Header.Get(response.AuthErrorHeader) {
	case response.CodeAccessTokenExpired:
		return ErrAccessExpired
	case response.CodeAccessTokenInvalid:
		return ErrAccessInvalid
	}
	return nil
}
