package config

import (
	"errors"
	"fmt"
	"testing"
)

func TestLoadErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "none", err: nil, want: "none"},
		{name: "validation", err: fmt.Errorf("%w: DATABASE_URL is required", ErrInvalid), want: "validation"},
		{name: "parse", err: &ParseError{Key: "ACCESS_TOKEN_TTL", Err: errors.New("invalid duration")}, want: "parse"},
		{name: "wrapped parse", err: fmt.Errorf("startup: %w", &ParseError{Key: "REDIS_DB", Err: errors.New("bad int")}), want: "parse"},
		{name: "other", err: errors.New("some other load error"), want: "load"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := loadErrorClass(tc.err); got != tc.want {
				t.Fatalf("loadErrorClass()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestParseErrorMessage(t *testing.T) {
	err := &ParseError{Key: "REDIS_DB", Err: errors.New("bad int")}
	if got := err.Error(); got != "parse REDIS_DB: bad int" {
		t.Fatalf("unexpected message %q", got)
	}
}
