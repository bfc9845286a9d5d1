package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sandeepkv93/session-auth-core/internal/sessionclient"
)

// StateFile persists a client session's token pair between CLI invocations.
type StateFile struct {
	path string
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sessionctl", "session.json")
}

func (f *StateFile) Path() string { return f.path }

// Load returns ok=false when no state has been saved yet.
func (f *StateFile) Load() (sessionclient.Tokens, bool, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sessionclient.Tokens{}, false, nil
		}
		return sessionclient.Tokens{}, false, fmt.Errorf("read state file: %w", err)
	}
	var tokens sessionclient.Tokens
	if err := json.Unmarshal(b, &tokens); err != nil {
		return sessionclient.Tokens{}, false, fmt.Errorf("decode state file: %w", err)
	}
	return tokens, true, nil
}

func (f *StateFile) Save(tokens sessionclient.Tokens) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (f *StateFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// Bind keeps the file in step with the session: rotated pairs are written,
// and a terminated session removes the file.
func (f *StateFile) Bind(s *sessionclient.Session, logger *slog.Logger) (unsubscribe func()) {
	if logger == nil {
		logger = slog.Default()
	}
	return s.Subscribe(func(ev sessionclient.Event) {
		var err error
		switch ev.Type {
		case sessionclient.EventCredentialsUpdated:
			err = f.Save(ev.Tokens)
		case sessionclient.EventSessionTerminated:
			err = f.Clear()
		default:
			return
		}
		if err != nil {
			logger.Warn("session state not persisted", "event", ev.Type.String(), "path", f.path, "error", err)
		}
	})
}
