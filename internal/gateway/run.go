package gateway

import (
	"context"
	"time"

	"github.com/user/gptrelay/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Commands a Run can carry instead of a message.
const (
	CommandClear = "clear"
)

// Run tracks a single unit of work for one user: either an inbound message
// or a command that must stay ordered with that user's messages.
type Run struct {
	ID         types.RunID
	UserID     types.UserID
	Event      *types.InboundEvent
	Command    string
	Status     RunStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	OnComplete func(response string)

	// Ctx is set by the queue when the run starts and is cancelled on shutdown.
	Ctx context.Context
}

// NewRun creates a Run in the Queued state for the given event.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		UserID:    event.UserID,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// NewCommandRun creates a Run carrying a command for userID.
func NewCommandRun(userID types.UserID, command string) *Run {
	return &Run{
		ID:        types.NewRunID(),
		UserID:    userID,
		Command:   command,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

func (r *Run) start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

func (r *Run) finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	if err != nil {
		r.Status = RunStatusFailed
		return
	}
	r.Status = RunStatusComplete
}
