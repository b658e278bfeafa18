package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/user/gptrelay/internal/types"
)

// ErrEmptyMessage is returned for inbound events with no text.
var ErrEmptyMessage = errors.New("empty message")

// Gateway turns inbound chat events and commands into runs and enqueues
// them on the per-user queue.
type Gateway struct {
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given limit on simultaneous run processing.
// failureReply is delivered to the user when a run's processor errors.
func New(failureReply string, maxConcurrent int64) *Gateway {
	q := NewQueue(maxConcurrent)
	q.SetFailureReply(failureReply)
	return &Gateway{Queue: q}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context and stops the queue, waiting for
// in-flight runs.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run produces a final response.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// HandleInbound wraps the event in a Run and enqueues it on the user's lane.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if strings.TrimSpace(event.Text) == "" {
		return ErrEmptyMessage
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

// HandleCommand enqueues a command on the user's lane so it is applied in
// arrival order relative to that user's messages.
func (g *Gateway) HandleCommand(ctx context.Context, userID types.UserID, command string, opts ...RunOption) error {
	run := NewCommandRun(userID, command)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}
