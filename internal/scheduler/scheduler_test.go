// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/gptrelay/internal/state"
	"github.com/user/gptrelay/internal/types"
)

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	job := Job{
		Name:     "every-second",
		Schedule: "* * * * * *",
		Run:      func(ctx context.Context) { fires.Add(1) },
	}

	sched := New(job)
	if n := sched.Start(context.Background()); n != 1 {
		t.Fatalf("expected 1 registered job, got %d", n)
	}
	defer sched.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && fires.Load() == 0 {
		time.Sleep(50 * time.Millisecond)
	}
	if fires.Load() == 0 {
		t.Error("expected job to fire at least once")
	}
}

func TestSchedulerSkipsInvalidAndDisabled(t *testing.T) {
	noop := func(ctx context.Context) {}
	sched := New(
		Job{Name: "bad", Schedule: "not a schedule", Run: noop},
		Job{Name: "off", Schedule: "", Run: noop},
		Job{Name: "hourly", Schedule: "@hourly", Run: noop},
		Job{Name: "five-field", Schedule: "0 3 * * *", Run: noop},
	)
	if n := sched.Start(context.Background()); n != 2 {
		t.Errorf("expected 2 registered jobs, got %d", n)
	}
	sched.Stop()
}

func TestValidateSchedule(t *testing.T) {
	for _, spec := range []string{"@daily", "@every 10m", "*/5 * * * *", "0 0 * * * *"} {
		if err := ValidateSchedule(spec); err != nil {
			t.Errorf("expected %q to be valid: %v", spec, err)
		}
	}
	if err := ValidateSchedule("61 * * * *"); err == nil {
		t.Error("expected invalid minute to fail")
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	job := Job{
		Name:     "long",
		Schedule: "* * * * * *",
		Run: func(ctx context.Context) {
			select {
			case started <- struct{}{}:
			default:
				return
			}
			<-ctx.Done()
			close(cancelled)
		},
	}

	sched := New(job)
	sched.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	sched.Stop()

	select {
	case <-cancelled:
	default:
		t.Error("Stop returned before the running job observed cancellation")
	}
}

func TestPruneJob(t *testing.T) {
	store := state.NewQAStore(filepath.Join(t.TempDir(), "data.json"))
	for _, q := range []string{"a", "b", "c"} {
		if err := store.Save(q, "answer"); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	PruneJob("@daily", store, 1).Run(context.Background())

	if got := store.Stats().TotalQAPairs; got != 1 {
		t.Errorf("expected 1 pair after prune, got %d", got)
	}
}

func TestStatsJob(t *testing.T) {
	sessions := state.NewSessionStore(30)
	sessions.Append("u", types.NewMessage(types.RoleUser, "hi"))

	job := StatsJob("@hourly", sessions)
	if job.Name != "session-stats" || job.Schedule != "@hourly" {
		t.Errorf("unexpected job %+v", job)
	}
	job.Run(context.Background())
}
