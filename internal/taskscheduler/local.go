package taskscheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

// ExecuteFunc runs a single task to completion. It is the seam where a real
// worker would execute user code; LocalTaskScheduler itself never
// interprets the closure bytes, consistent with "executing user code"
// being out of the DAG scheduler's scope.
type ExecuteFunc func(ctx context.Context, task *domain.Task) (result any, reason domain.TaskEndReason, accum []domain.AccumulatorUpdate)

// LocalTaskScheduler runs a task set's tasks as goroutines bounded by
// Concurrency, for local development and tests. It reports every
// completion back to the DAG scheduler via Callbacks, the same path a
// cluster-backed implementation would use.
type LocalTaskScheduler struct {
	Execute     ExecuteFunc
	Concurrency int

	log *logger.Logger
	cb  Callbacks

	mu          sync.Mutex
	stageCancel map[domain.StageID]context.CancelFunc
	taskCancel  map[domain.TaskID]context.CancelFunc
}

// NewLocalTaskScheduler builds a scheduler bounding concurrent task
// execution at concurrency goroutines (0 or negative means unbounded).
func NewLocalTaskScheduler(execute ExecuteFunc, concurrency int, log *logger.Logger) *LocalTaskScheduler {
	return &LocalTaskScheduler{
		Execute:     execute,
		Concurrency: concurrency,
		log:         log.With("component", "taskscheduler.LocalTaskScheduler"),
		stageCancel: make(map[domain.StageID]context.CancelFunc),
		taskCancel:  make(map[domain.TaskID]context.CancelFunc),
	}
}

func (s *LocalTaskScheduler) SetDAGScheduler(cb Callbacks) { s.cb = cb }

func (s *LocalTaskScheduler) SubmitTasks(ts *TaskSet) error {
	stageCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stageCancel[ts.StageID] = cancel
	s.mu.Unlock()

	go func() {
		g, gctx := errgroup.WithContext(stageCtx)
		if s.Concurrency > 0 {
			g.SetLimit(s.Concurrency)
		}
		for _, task := range ts.Tasks {
			task := task
			g.Go(func() error {
				taskCtx, taskCancel := context.WithCancel(gctx)
				s.mu.Lock()
				s.taskCancel[task.ID] = taskCancel
				s.mu.Unlock()
				defer func() {
					s.mu.Lock()
					delete(s.taskCancel, task.ID)
					s.mu.Unlock()
					taskCancel()
				}()

				result, reason, accum := s.Execute(taskCtx, task)
				s.cb.PostEvent(domain.CompletionEvent{
					Task:         task,
					Reason:       reason,
					Result:       result,
					AccumUpdates: accum,
					TaskInfo:     &domain.TaskInfo{TaskID: task.ID},
					CompletedAt:  time.Now(),
				})
				return nil
			})
		}
		_ = g.Wait()

		s.mu.Lock()
		delete(s.stageCancel, ts.StageID)
		s.mu.Unlock()
	}()
	return nil
}

func (s *LocalTaskScheduler) CancelTasks(stageID domain.StageID, interruptThread bool) error {
	s.mu.Lock()
	cancel, ok := s.stageCancel[stageID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (s *LocalTaskScheduler) KillAllTaskAttempts(stageID domain.StageID, interruptThread bool, reason string) error {
	s.log.Info("killing all task attempts", "stage_id", stageID, "reason", reason)
	return s.CancelTasks(stageID, interruptThread)
}

func (s *LocalTaskScheduler) KillTaskAttempt(taskID domain.TaskID, interruptThread bool, reason string) error {
	s.mu.Lock()
	cancel, ok := s.taskCancel[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
