package taskscheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

// maxTasksPerWorkflowRun bounds how many task activities one workflow
// history covers before continuing as new, the same tick-budget idea the
// teacher's job-run workflow uses to keep history size bounded.
const maxTasksPerWorkflowRun = 500

// TaskSetWorkflowName and ReportCompletionActivityName / RunTaskActivityName
// are the temporal registration names; kept as constants so the scheduler
// and any worker process registering these agree on them independent of Go
// package paths.
const (
	TaskSetWorkflowName          = "TaskSetWorkflow"
	RunTaskActivityName          = "RunTaskActivity"
	ReportCompletionActivityName = "ReportCompletionActivity"
)

// TaskSetWorkflowInput is the workflow argument: a task set plus the index of
// the first task this run launches (advanced across continue-as-new
// boundaries).
type TaskSetWorkflowInput struct {
	StageID        domain.StageID
	StageAttemptID domain.AttemptID
	Tasks          []*domain.Task
	StartIndex     int
}

// TaskActivityResult is what RunTaskActivity returns for one task.
type TaskActivityResult struct {
	Result any
	Reason domain.TaskEndReason
	Accum  []domain.AccumulatorUpdate
}

// TemporalTaskScheduler submits each stage attempt's task set as a Temporal
// workflow execution, polling-free: the workflow drives task activities
// directly and reports each completion back through ReportCompletionActivity,
// which is registered as a bound method so it can reach this scheduler's
// Callbacks without any package-level mutable state.
type TemporalTaskScheduler struct {
	Execute ExecuteFunc

	client    client.Client
	taskQueue string
	log       *logger.Logger
	cb        Callbacks

	mu          sync.Mutex
	workflowIDs map[domain.StageID]string
}

// NewTemporalTaskScheduler wires a scheduler to an already-connected
// Temporal client. Callers must register RunTaskActivity and
// ReportCompletionActivity (both bound methods of the returned value) and
// TaskSetWorkflow on a worker listening on taskQueue before starting it.
func NewTemporalTaskScheduler(c client.Client, taskQueue string, execute ExecuteFunc, log *logger.Logger) *TemporalTaskScheduler {
	return &TemporalTaskScheduler{
		Execute:     execute,
		client:      c,
		taskQueue:   taskQueue,
		log:         log.With("component", "taskscheduler.TemporalTaskScheduler"),
		workflowIDs: make(map[domain.StageID]string),
	}
}

func (s *TemporalTaskScheduler) SetDAGScheduler(cb Callbacks) { s.cb = cb }

func (s *TemporalTaskScheduler) SubmitTasks(ts *TaskSet) error {
	workflowID := fmt.Sprintf("taskset-%d-%d", ts.StageID, ts.StageAttemptID)
	s.mu.Lock()
	s.workflowIDs[ts.StageID] = workflowID
	s.mu.Unlock()

	input := TaskSetWorkflowInput{
		StageID:        ts.StageID,
		StageAttemptID: ts.StageAttemptID,
		Tasks:          ts.Tasks,
	}
	_, err := s.client.ExecuteWorkflow(context.Background(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, TaskSetWorkflowName, input)
	if err != nil {
		return fmt.Errorf("taskscheduler: start workflow for stage %d: %w", ts.StageID, err)
	}
	return nil
}

func (s *TemporalTaskScheduler) CancelTasks(stageID domain.StageID, interruptThread bool) error {
	s.mu.Lock()
	workflowID, ok := s.workflowIDs[stageID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.client.CancelWorkflow(context.Background(), workflowID, "")
}

func (s *TemporalTaskScheduler) KillAllTaskAttempts(stageID domain.StageID, interruptThread bool, reason string) error {
	s.mu.Lock()
	workflowID, ok := s.workflowIDs[stageID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.client.TerminateWorkflow(context.Background(), workflowID, "", reason)
}

func (s *TemporalTaskScheduler) KillTaskAttempt(taskID domain.TaskID, interruptThread bool, reason string) error {
	// Temporal has no per-activity kill short of terminating the owning
	// workflow; a single task attempt cannot be targeted independently of
	// its stage's task-set workflow.
	return nil
}

// RunTaskActivity executes one task via Execute. Registered on a worker as
// a bound method so it shares this scheduler's Execute seam.
func (s *TemporalTaskScheduler) RunTaskActivity(ctx context.Context, task *domain.Task) (TaskActivityResult, error) {
	result, reason, accum := s.Execute(ctx, task)
	return TaskActivityResult{Result: result, Reason: reason, Accum: accum}, nil
}

// ReportCompletionActivity posts a CompletionEvent back onto the DAG
// scheduler's event loop. It is an activity (not a plain workflow call) so
// it can have the side effect of touching Callbacks, which the temporal
// sandbox forbids workflow code from doing directly.
func (s *TemporalTaskScheduler) ReportCompletionActivity(ctx context.Context, task *domain.Task, res TaskActivityResult) error {
	s.cb.PostEvent(domain.CompletionEvent{
		Task:         task,
		Reason:       res.Reason,
		Result:       res.Result,
		AccumUpdates: res.Accum,
		TaskInfo:     &domain.TaskInfo{TaskID: task.ID},
		CompletedAt:  time.Now(),
	})
	return nil
}

// TaskSetWorkflow launches one RunTaskActivity per task concurrently,
// reports each result via ReportCompletionActivity in task order, and
// continues as new once it has launched maxTasksPerWorkflowRun tasks in this
// run's history, matching the teacher's tick-budget continue-as-new pattern.
func TaskSetWorkflow(ctx workflow.Context, input TaskSetWorkflowInput) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1, // stage-level retry is the DAG scheduler's job, not the activity's
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	end := len(input.Tasks)
	launched := 0
	if end-input.StartIndex > maxTasksPerWorkflowRun {
		end = input.StartIndex + maxTasksPerWorkflowRun
	}

	var futures []workflow.Future
	for i := input.StartIndex; i < end; i++ {
		futures = append(futures, workflow.ExecuteActivity(ctx, RunTaskActivityName, input.Tasks[i]))
		launched++
	}

	for i, f := range futures {
		task := input.Tasks[input.StartIndex+i]
		var res TaskActivityResult
		err := f.Get(ctx, &res)
		if err != nil {
			res = TaskActivityResult{Reason: domain.NewExceptionFailure(&domain.ExceptionFailure{Description: err.Error()})}
		}
		if err := workflow.ExecuteActivity(ctx, ReportCompletionActivityName, task, res).Get(ctx, nil); err != nil {
			return err
		}
	}

	if end < len(input.Tasks) {
		return workflow.NewContinueAsNewError(ctx, TaskSetWorkflowName, TaskSetWorkflowInput{
			StageID:        input.StageID,
			StageAttemptID: input.StageAttemptID,
			Tasks:          input.Tasks,
			StartIndex:     end,
		})
	}
	return nil
}
