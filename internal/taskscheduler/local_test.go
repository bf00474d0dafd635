package taskscheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

type recordingCallbacks struct {
	mu     sync.Mutex
	events []domain.SchedulerEvent
}

func (r *recordingCallbacks) PostEvent(e domain.SchedulerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingCallbacks) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	return l
}

func TestLocalTaskSchedulerSubmitTasksReportsCompletions(t *testing.T) {
	cb := &recordingCallbacks{}
	execute := func(ctx context.Context, task *domain.Task) (any, domain.TaskEndReason, []domain.AccumulatorUpdate) {
		return nil, domain.ReasonIsSuccess(), nil
	}
	s := NewLocalTaskScheduler(execute, 2, testLogger(t))
	s.SetDAGScheduler(cb)

	tasks := make([]*domain.Task, 0, 4)
	for i := 0; i < 4; i++ {
		tasks = append(tasks, &domain.Task{ID: domain.TaskID(i), Partition: domain.PartitionID(i)})
	}
	if err := s.SubmitTasks(&TaskSet{StageID: 1, Tasks: tasks}); err != nil {
		t.Fatalf("SubmitTasks: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for cb.count() < 4 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 4 completions, got %d", cb.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLocalTaskSchedulerKillTaskAttempt(t *testing.T) {
	cb := &recordingCallbacks{}
	started := make(chan struct{})
	execute := func(ctx context.Context, task *domain.Task) (any, domain.TaskEndReason, []domain.AccumulatorUpdate) {
		close(started)
		<-ctx.Done()
		return nil, domain.NewTaskKilled(&domain.TaskKilled{Reason: "killed"}), nil
	}
	s := NewLocalTaskScheduler(execute, 1, testLogger(t))
	s.SetDAGScheduler(cb)

	task := &domain.Task{ID: 1}
	if err := s.SubmitTasks(&TaskSet{StageID: 1, Tasks: []*domain.Task{task}}); err != nil {
		t.Fatalf("SubmitTasks: %v", err)
	}

	<-started
	if err := s.KillTaskAttempt(task.ID, true, "test kill"); err != nil {
		t.Fatalf("KillTaskAttempt: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for cb.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for killed task completion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
