package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelAdvancesUntilDone(t *testing.T) {
	m := model{title: "login", cancel: func() {}}
	next, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("expected another tick while running")
	}
	if next.(model).frame != 1 {
		t.Fatalf("expected frame 1, got %d", next.(model).frame)
	}

	next, cmd = next.Update(doneMsg{details: []string{"subject=u1"}})
	if cmd == nil {
		t.Fatal("expected quit command on completion")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if _, cmd = next.Update(tickMsg{}); cmd != nil {
		t.Fatal("expected ticking to stop after completion")
	}
	if view := next.View(); !strings.Contains(view, "login") || !strings.Contains(view, "subject=u1") {
		t.Fatalf("unexpected final view %q", view)
	}
}

func TestModelCancelsOnInterrupt(t *testing.T) {
	cancelled := false
	m := model{title: "watch", cancel: func() { cancelled = true }}
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled {
		t.Fatal("expected ctrl+c to cancel the task")
	}
}

func TestSummaryIncludesError(t *testing.T) {
	out := Summary("call", []string{"GET /api/v1/me"}, errors.New("session expired"))
	if !strings.Contains(out, "session expired") || !strings.Contains(out, "GET /api/v1/me") {
		t.Fatalf("unexpected summary %q", out)
	}
}
