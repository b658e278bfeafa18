//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/gptrelay/internal/completion"
	ctxengine "github.com/user/gptrelay/internal/context"
	"github.com/user/gptrelay/internal/dispatcher"
	"github.com/user/gptrelay/internal/gateway"
	"github.com/user/gptrelay/internal/state"
	"github.com/user/gptrelay/internal/types"
	"github.com/user/gptrelay/internal/webhook"
	"github.com/user/gptrelay/pkg/llm"
	"github.com/user/gptrelay/pkg/llm/openai"
)

const failureReply = "Sorry, try again later."

// fakeUpstream is an OpenAI-compatible chat completions endpoint. Each call
// pops the next status from statuses (200 once exhausted) and records the
// request messages.
type fakeUpstream struct {
	mu       sync.Mutex
	statuses []int
	requests [][]llm.Message
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req.Messages)
	n := len(f.requests)
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"error":{"message":"upstream says no"}}`, status)
		return
	}
	last := req.Messages[len(req.Messages)-1].Content
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"reply %d to %s"}}],"usage":{"total_tokens":10}}`, n, last)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeUpstream) request(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type stack struct {
	sessions *state.SessionStore
	server   *httptest.Server
}

func newStack(t *testing.T, upstream *fakeUpstream, apiKey string) *stack {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	provider := openai.New(&llm.Config{
		BaseURL:   up.URL + "/v1",
		APIKey:    apiKey,
		Model:     "gpt-4o-mini",
		MaxTokens: 100,
	})
	engine, err := ctxengine.New("gpt-4o-mini", 128000, 1500, "")
	require.NoError(t, err)

	client := completion.NewClient(provider, completion.DefaultRetryPolicy(),
		completion.WithPromptBuilder(engine),
		completion.WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	)

	sessions := state.NewSessionStore(30)
	qa := state.NewQAStore(filepath.Join(t.TempDir(), "qa.json"))
	d := dispatcher.New(sessions, client, qa, dispatcher.Options{
		FailureReply: failureReply,
		ClearedReply: "cleared",
	})

	gw := gateway.New(failureReply, 4)
	gw.Queue.SetProcessor(d.ProcessRun)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	handler := func(ctx context.Context, userID types.UserID, prompt string) (string, error) {
		done := make(chan string, 1)
		event := &types.InboundEvent{Source: "webhook", UserID: userID, Text: prompt}
		if err := gw.HandleInbound(ctx, event, gateway.WithOnComplete(func(s string) { done <- s })); err != nil {
			return "", err
		}
		select {
		case s := <-done:
			return s, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	srv := httptest.NewServer(webhook.NewServer(handler, webhook.Deps{Sessions: sessions, QA: qa}))
	t.Cleanup(srv.Close)
	return &stack{sessions: sessions, server: srv}
}

func (s *stack) prompt(t *testing.T, userID, text string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"prompt": text, "user_id": userID})
	resp, err := http.Post(s.server.URL+"/webhook", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out["response"]
}

func TestEndToEndConversation(t *testing.T) {
	upstream := &fakeUpstream{}
	s := newStack(t, upstream, "sk-test")

	assert.Equal(t, "reply 1 to hello", s.prompt(t, "alice", "hello"))
	assert.Equal(t, "reply 2 to again", s.prompt(t, "alice", "again"))

	// Second request carries the system prompt plus the full history.
	msgs := upstream.request(1)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "reply 1 to hello", msgs[2].Content)
	assert.Equal(t, "again", msgs[3].Content)

	// Users do not see each other's history.
	s.prompt(t, "bob", "hi")
	assert.Len(t, upstream.request(2), 2)

	stats := s.sessions.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 6, stats.Messages)
}

func TestEndToEndRetriesTransientFailures(t *testing.T) {
	upstream := &fakeUpstream{statuses: []int{http.StatusInternalServerError, http.StatusTooManyRequests}}
	s := newStack(t, upstream, "sk-test")

	assert.Equal(t, "reply 3 to hello", s.prompt(t, "alice", "hello"))
	assert.Equal(t, 3, upstream.calls())
}

func TestEndToEndAuthenticationFailure(t *testing.T) {
	upstream := &fakeUpstream{statuses: []int{http.StatusUnauthorized}}
	s := newStack(t, upstream, "sk-bad")

	assert.Equal(t, failureReply, s.prompt(t, "alice", "hello"))
	assert.Equal(t, 1, upstream.calls(), "authentication errors are not retried")

	// The user message stays in history; no assistant reply was added.
	hist := s.sessions.Snapshot(webhook.WebhookUserID("alice"))
	require.Len(t, hist, 1)
	assert.Equal(t, types.RoleUser, hist[0].Role)
}

func TestEndToEndMissingAPIKey(t *testing.T) {
	upstream := &fakeUpstream{}
	s := newStack(t, upstream, "")

	assert.Equal(t, failureReply, s.prompt(t, "alice", "hello"))
	assert.Equal(t, 0, upstream.calls())
}
