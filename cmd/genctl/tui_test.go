package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"genforge/internal/client"
)

func TestGenerateModelTracksProgress(t *testing.T) {
	m := newGenerateModel(func() {})
	next, _ := m.Update(progressMsg{jobID: "job_1", progress: "stage 1/3: panel 1"})
	m = next.(generateModel)
	view := m.View()
	if !strings.Contains(view, "stage 1/3: panel 1") || !strings.Contains(view, "job_1") {
		t.Fatalf("view = %q", view)
	}
}

func TestGenerateModelQuitsWhenDone(t *testing.T) {
	m := newGenerateModel(func() {})
	next, cmd := m.Update(doneMsg{out: &client.Outcome{JobID: "job_1"}})
	m = next.(generateModel)
	if !m.done || m.out == nil || cmd == nil {
		t.Fatalf("model = %+v", m)
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit command")
	}
	if m.View() != "" {
		t.Fatal("finished view should be empty")
	}

	next, _ = newGenerateModel(func() {}).Update(doneMsg{err: errors.New("boom")})
	if next.(generateModel).err == nil {
		t.Fatal("error not recorded")
	}
}

func TestGenerateModelDetachCancels(t *testing.T) {
	cancelled := false
	m := newGenerateModel(func() { cancelled = true })
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(generateModel).detached || !cancelled || cmd == nil {
		t.Fatal("q should detach and cancel the wait")
	}
}
