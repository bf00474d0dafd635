// Package taskscheduler is the downward collaborator the spec calls the
// "lower-level task scheduler": it is handed task sets by the Stage
// Submission Engine and reports completions back via Callbacks. Which
// worker runs a task, executing user code, and placement decisions are
// explicitly out of the DAG scheduler's scope; this package only has to
// satisfy the interface footprint the core depends on.
package taskscheduler

import "github.com/flowstage/dagscheduler/internal/domain"

// TaskSet is one stage attempt's worth of tasks, handed to the task
// scheduler as a unit.
type TaskSet struct {
	StageID        domain.StageID
	StageAttemptID domain.AttemptID
	Tasks          []*domain.Task
	Properties     map[string]string
}

// Callbacks is the narrow surface the task scheduler uses to report back to
// the DAG scheduler. A real DAGScheduler posts these straight onto its
// event loop; it never calls back synchronously.
type Callbacks interface {
	PostEvent(event domain.SchedulerEvent)
}

// TaskScheduler is the interface §6 describes for the downward task
// scheduler collaborator.
type TaskScheduler interface {
	SetDAGScheduler(cb Callbacks)
	SubmitTasks(ts *TaskSet) error
	CancelTasks(stageID domain.StageID, interruptThread bool) error
	KillAllTaskAttempts(stageID domain.StageID, interruptThread bool, reason string) error
	KillTaskAttempt(taskID domain.TaskID, interruptThread bool, reason string) error
}
