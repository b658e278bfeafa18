// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	before := time.Now()
	msg := NewMessage(RoleUser, "hello")
	if msg.Role != RoleUser {
		t.Errorf("expected role user, got %s", msg.Role)
	}
	if msg.Text != "hello" {
		t.Errorf("expected text hello, got %q", msg.Text)
	}
	if msg.CreatedAt.Before(before) {
		t.Error("expected CreatedAt to be set to now")
	}
}

func TestMessageJSONRoles(t *testing.T) {
	data, err := json.Marshal(Message{Role: RoleAssistant, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["role"] != "assistant" {
		t.Errorf("expected role assistant on the wire, got %v", decoded["role"])
	}
}
