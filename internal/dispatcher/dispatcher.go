// Package dispatcher wires inbound user messages and commands to the
// session store and the completion client.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/gptrelay/internal/completion"
	"github.com/user/gptrelay/internal/gateway"
	"github.com/user/gptrelay/internal/types"
)

// minCachedReply is the reply length above which a Q&A pair is saved.
const minCachedReply = 20

// Completer produces a reply for a conversation history.
type Completer interface {
	Complete(ctx context.Context, history []types.Message) (completion.Outcome, error)
}

// QACache stores answered questions. *state.QAStore satisfies it.
type QACache interface {
	Lookup(question string) (string, bool)
	Save(question, answer string) error
}

// Options holds the user-facing texts and cache behaviour.
type Options struct {
	// FailureReply is returned for every failed completion, whatever the cause.
	FailureReply string
	// ClearedReply acknowledges /clear. Empty sends nothing.
	ClearedReply string
	// CacheEnabled answers repeated questions from the Q&A cache instead of
	// calling upstream. Answers are saved to the cache either way.
	CacheEnabled bool
}

// Dispatcher runs the turn: record the user message, snapshot history, call
// upstream, record the reply.
type Dispatcher struct {
	sessions types.SessionStore
	client   Completer
	cache    QACache
	opts     Options
}

// New creates a Dispatcher. cache may be nil.
func New(sessions types.SessionStore, client Completer, cache QACache, opts Options) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		client:   client,
		cache:    cache,
		opts:     opts,
	}
}

// OnUserMessage handles one message and returns the text to deliver. Blank
// input yields an empty string, meaning nothing is sent.
func (d *Dispatcher) OnUserMessage(ctx context.Context, userID types.UserID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	d.sessions.Append(userID, types.NewMessage(types.RoleUser, text))

	if d.opts.CacheEnabled && d.cache != nil {
		if answer, ok := d.cache.Lookup(text); ok {
			slog.Info("answered from cache", "user_id", string(userID))
			d.sessions.Append(userID, types.NewMessage(types.RoleAssistant, answer))
			return answer
		}
	}

	history := d.sessions.Snapshot(userID)
	out, err := d.client.Complete(ctx, history)
	if err != nil {
		slog.Error("completion rejected", "user_id", string(userID), "error", err)
		return d.opts.FailureReply
	}
	if !out.OK() {
		slog.Warn("completion failed",
			"user_id", string(userID),
			"kind", out.Kind.String(),
			"attempts", out.Attempts,
		)
		return d.opts.FailureReply
	}

	d.sessions.Append(userID, types.NewMessage(types.RoleAssistant, out.Text))

	if d.cache != nil && len(out.Text) > minCachedReply {
		if err := d.cache.Save(text, out.Text); err != nil {
			slog.Warn("failed to cache reply", "user_id", string(userID), "error", err)
		}
	}
	return out.Text
}

// OnClearCommand forgets the user's conversation.
func (d *Dispatcher) OnClearCommand(userID types.UserID) {
	d.sessions.Clear(userID)
	slog.Info("conversation cleared", "user_id", string(userID))
}

// ProcessRun executes a single gateway run.
// This is the function passed to Queue.SetProcessor.
func (d *Dispatcher) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	switch run.Command {
	case "":
		if run.Event == nil {
			return errors.New("message run without event")
		}
		reply := d.OnUserMessage(ctx, run.UserID, run.Event.Text)
		if reply != "" && run.OnComplete != nil {
			run.OnComplete(reply)
		}
		return nil

	case gateway.CommandClear:
		d.OnClearCommand(run.UserID)
		if d.opts.ClearedReply != "" && run.OnComplete != nil {
			run.OnComplete(d.opts.ClearedReply)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", run.Command)
	}
}
