// Package completion calls the upstream completion service and absorbs its
// transient failures with bounded, cancellable retries.
package completion

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/user/gptrelay/internal/types"
	"github.com/user/gptrelay/pkg/llm"
)

// ErrInvalidInput is returned when Complete is called with an empty history.
var ErrInvalidInput = errors.New("completion: history must not be empty")

// Outcome is the result of one Complete call. A failed outcome carries the
// classified kind and the number of upstream attempts made; Err holds the
// last upstream error for logging and must not be shown to end users.
type Outcome struct {
	Text     string
	Kind     llm.ErrorKind
	Attempts int
	Err      error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Sleeper suspends the caller for d or until ctx is done, whichever is first.
type Sleeper func(ctx context.Context, d time.Duration) error

// PromptBuilder turns stored history into the messages sent upstream.
type PromptBuilder interface {
	Build(history []types.Message) []llm.Message
}

// Client is a retrying front for an llm.Provider. It keeps no state between
// calls and is safe for concurrent use.
type Client struct {
	provider llm.Provider
	policy   RetryPolicy
	sleep    Sleeper
	jitter   func(max time.Duration) time.Duration
	prompt   PromptBuilder
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces the timer-based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithJitter replaces the jitter source. fn receives BaseDelay and returns a
// value in [0, BaseDelay].
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = fn }
}

// WithPromptBuilder sets how history is shaped into upstream messages.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(c *Client) { c.prompt = b }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client calling provider under policy.
func NewClient(provider llm.Provider, policy RetryPolicy, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		policy:   policy,
		sleep:    sleepContext,
		jitter:   uniformJitter,
		prompt:   plainPrompt{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's retry policy.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// Complete sends history upstream and returns the reply or a classified
// failure. Retryable failures are absorbed until the attempt budget or the
// overall deadline runs out. The only error returned is ErrInvalidInput.
func (c *Client) Complete(ctx context.Context, history []types.Message) (Outcome, error) {
	if len(history) == 0 {
		return Outcome{}, ErrInvalidInput
	}

	if c.policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Deadline)
		defer cancel()
	}

	messages := c.prompt.Build(history)
	maxAttempts := c.policy.attempts()

	for attempt := 1; ; attempt++ {
		resp, err := c.provider.Complete(ctx, messages)
		if err == nil && resp == nil {
			err = llm.NewError(llm.KindMalformed, 0, errors.New("provider returned no response"))
		}
		if err == nil {
			return Outcome{Text: resp.Content, Attempts: attempt}, nil
		}

		// Past the deadline every failure counts as transient.
		if ctx.Err() != nil {
			return c.fail(llm.KindTransient, attempt, errors.Join(ctx.Err(), err)), nil
		}

		kind := llm.Classify(err)
		if !kind.Retryable() || attempt >= maxAttempts {
			return c.fail(kind, attempt, err), nil
		}

		delay := c.backoff(attempt, kind, err)
		c.logger.Warn("completion attempt failed, retrying",
			"attempt", attempt,
			"kind", kind.String(),
			"delay", delay,
			"error", err,
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			return c.fail(llm.KindTransient, attempt, errors.Join(serr, err)), nil
		}
	}
}

// backoff picks the wait before the next attempt. A rate limit hint from
// the service wins over the computed delay.
func (c *Client) backoff(attempt int, kind llm.ErrorKind, err error) time.Duration {
	if kind == llm.KindRateLimited {
		if hint := llm.RetryAfterHint(err); hint > 0 {
			return hint
		}
	}
	delay := c.policy.NextDelay(attempt)
	if c.policy.Jitter && c.jitter != nil && c.policy.BaseDelay > 0 {
		delay = c.policy.withJitter(delay, c.jitter(c.policy.BaseDelay))
	}
	return delay
}

func (c *Client) fail(kind llm.ErrorKind, attempts int, err error) Outcome {
	c.logger.Error("completion failed",
		"kind", kind.String(),
		"attempts", attempts,
		"error", err,
	)
	return Outcome{Kind: kind, Attempts: attempts, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// plainPrompt maps history one-to-one onto upstream messages.
type plainPrompt struct{}

func (plainPrompt) Build(history []types.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Text}
	}
	return out
}
