package context

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/gptrelay/internal/types"
)

func newTestEngine(t *testing.T, maxTokens, reserve int) *Engine {
	t.Helper()
	e, err := New("gpt-4o-mini", maxTokens, reserve, "")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	if e == nil {
		t.Fatal("expected non-nil engine")
	}
}

func TestBuildBasic(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)

	history := []types.Message{
		types.NewMessage(types.RoleUser, "hello"),
		types.NewMessage(types.RoleAssistant, "hi there"),
		types.NewMessage(types.RoleUser, "how are you?"),
	}

	messages := e.Build(history)

	// system prompt + 3 history messages
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("expected system message first, got %q", messages[0].Role)
	}
	if messages[1].Role != "user" || messages[1].Content != "hello" {
		t.Errorf("unexpected first turn %+v", messages[1])
	}
	if messages[2].Role != "assistant" {
		t.Errorf("expected assistant message, got %q", messages[2].Role)
	}
	if messages[3].Content != "how are you?" {
		t.Errorf("expected newest turn last, got %q", messages[3].Content)
	}
}

func TestBuildSystemPromptRendersTime(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	e.now = func() time.Time { return time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC) }

	messages := e.Build([]types.Message{types.NewMessage(types.RoleUser, "hi")})
	if !strings.Contains(messages[0].Content, "2024-03-09T10:30:00Z") {
		t.Errorf("expected rendered time in system prompt, got:\n%s", messages[0].Content)
	}
	if strings.Contains(messages[0].Content, "{{") {
		t.Error("template actions left unrendered")
	}
}

func TestBuildBudgetTruncation(t *testing.T) {
	// Tiny budget: the system prompt alone uses most of it.
	e := newTestEngine(t, 600, 100)

	history := make([]types.Message, 50)
	for i := range history {
		history[i] = types.NewMessage(types.RoleUser, "This is a message that takes up tokens in the context window budget.")
	}
	history[49].Text = "newest"

	messages := e.Build(history)
	if len(messages) >= 51 {
		t.Errorf("expected truncation, got all %d messages", len(messages))
	}
	if got := messages[len(messages)-1].Content; got != "newest" {
		t.Errorf("expected newest message kept last, got %q", got)
	}
}

func TestBuildAlwaysKeepsNewest(t *testing.T) {
	// Budget smaller than the system prompt.
	e := newTestEngine(t, 10, 5)

	history := []types.Message{
		types.NewMessage(types.RoleUser, "old"),
		types.NewMessage(types.RoleAssistant, "older reply"),
		types.NewMessage(types.RoleUser, strings.Repeat("long question ", 50)),
	}
	messages := e.Build(history)
	if len(messages) != 2 {
		t.Fatalf("expected system + newest, got %d messages", len(messages))
	}
	if messages[1].Content != history[2].Text {
		t.Error("expected the newest message to survive truncation")
	}
}

func TestNewWithPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	if err := os.WriteFile(path, []byte("Custom persona. Now: {{.Date}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := New("gpt-4o-mini", 128000, 4096, path)
	if err != nil {
		t.Fatal(err)
	}
	e.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	messages := e.Build([]types.Message{types.NewMessage(types.RoleUser, "hi")})
	if messages[0].Content != "Custom persona. Now: Monday, 1 January 2024" {
		t.Errorf("unexpected system prompt %q", messages[0].Content)
	}
}

func TestNewPromptFileErrors(t *testing.T) {
	if _, err := New("gpt-4o-mini", 1000, 100, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing prompt file")
	}

	path := filepath.Join(t.TempDir(), "bad.tmpl")
	os.WriteFile(path, []byte("{{.Broken"), 0o644)
	if _, err := New("gpt-4o-mini", 1000, 100, path); err == nil {
		t.Error("expected error for invalid template")
	}
}
