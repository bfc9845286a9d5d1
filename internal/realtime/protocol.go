package realtime

import (
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	TypeSessionReady = "session.ready"
	TypeAuthError    = "auth.error"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeEcho         = "echo"
)

// Application close codes. Both mean the credential is no longer usable;
// only CloseAuthExpired is worth a refresh.
const (
	CloseAuthExpired websocket.StatusCode = 4001
	CloseAuthInvalid websocket.StatusCode = 4003
)

type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SessionReadyPayload struct {
	ConnectionID    string    `json:"connection_id"`
	Subject         string    `json:"subject"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEnvelope(typ string, payload any, now time.Time) (Envelope, error) {
	env := Envelope{Type: typ, ID: ulid.Make().String(), TS: now.UTC()}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = b
	return env, nil
}
