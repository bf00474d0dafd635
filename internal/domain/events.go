package domain

import "time"

// ExecutorLossReason describes why an executor was reported lost. WorkerLost
// means the whole host is gone (e.g. a cloud preemption or node failure), as
// opposed to just the executor process exiting while its host survives.
type ExecutorLossReason struct {
	Message    string
	WorkerLost bool
}

// SchedulerEvent is the tagged union of everything the event loop accepts.
// Every concrete event type below implements it; a type switch in the event
// loop is the only place that branches on the concrete event type.
type SchedulerEvent interface {
	schedulerEvent()
}

// JobSubmitted requests construction of a ResultStage DAG for rdd and
// submission of its job.
type JobSubmitted struct {
	JobID      JobID
	Dataset    *Dataset
	Partitions []PartitionID
	CallSite   CallSite
	Listener   JobListener
	Properties map[string]string
}

// MapStageSubmitted requests running only the map side of a shuffle
// dependency, notifying Listener with map-output statistics.
type MapStageSubmitted struct {
	JobID      JobID
	ShuffleDep *ShuffleDependency
	CallSite   CallSite
	Listener   JobListener
	Properties map[string]string
}

// StageCancelled cancels every active job that contains StageID.
type StageCancelled struct {
	StageID StageID
	Reason  string
}

// JobCancelled fails JobID and any stage exclusively owned by it.
type JobCancelled struct {
	JobID  JobID
	Reason string
}

// JobGroupCancelled cancels every active job whose GroupID matches.
type JobGroupCancelled struct {
	GroupID string
}

// AllJobsCancelled cancels every active job.
type AllJobsCancelled struct {
	Reason string
}

// ExecutorAdded clears any stale failure-epoch entry for ExecutorID so a
// reused executor id starts fresh.
type ExecutorAdded struct {
	ExecutorID ExecutorID
}

// ExecutorLost records a loss of ExecutorID; Reason determines whether
// shuffle output on the executor is presumed lost too.
type ExecutorLost struct {
	ExecutorID ExecutorID
	Reason     ExecutorLossReason
}

// WorkerRemoved unconditionally unregisters every shuffle output hosted on
// Host, regardless of per-executor epoch bookkeeping.
type WorkerRemoved struct {
	Host string
}

// BeginEvent is a telemetry-only notification that a task attempt has
// started executing.
type BeginEvent struct {
	Task *Task
	Info *TaskInfo
}

// GettingResultEvent is a telemetry-only notification that the driver is
// fetching a task's result.
type GettingResultEvent struct {
	Task *Task
	Info *TaskInfo
}

// SpeculativeTaskSubmittedEvent is a telemetry-only record of a
// speculative copy being launched; the scheduler does not decide to launch
// it, only records that it happened.
type SpeculativeTaskSubmittedEvent struct {
	Task *Task
}

// CompletionEvent reports the outcome of one task attempt, driving the
// Completion Handler state machine.
type CompletionEvent struct {
	Task          *Task
	Reason        TaskEndReason
	Result        any
	AccumUpdates  []AccumulatorUpdate
	TaskInfo      *TaskInfo
	CompletedAt   time.Time
}

// AccumulatorUpdate is a driver-side accumulator delta reported by a task.
type AccumulatorUpdate struct {
	AccumulatorID int64
	Value         any
}

// TaskSetFailed aborts the stage a task set belonged to when the task
// scheduler gives up on it entirely (not a single task's failure).
type TaskSetFailed struct {
	StageID StageID
	Reason  string
}

// ResubmitFailedStages drains the failed-stages set and resubmits its
// members in ascending FirstJobID order. Posted by the resubmission timer
// after its debounce window elapses.
type ResubmitFailedStages struct{}

func (JobSubmitted) schedulerEvent()                  {}
func (MapStageSubmitted) schedulerEvent()             {}
func (StageCancelled) schedulerEvent()                {}
func (JobCancelled) schedulerEvent()                  {}
func (JobGroupCancelled) schedulerEvent()             {}
func (AllJobsCancelled) schedulerEvent()              {}
func (ExecutorAdded) schedulerEvent()                 {}
func (ExecutorLost) schedulerEvent()                  {}
func (WorkerRemoved) schedulerEvent()                 {}
func (BeginEvent) schedulerEvent()                    {}
func (GettingResultEvent) schedulerEvent()            {}
func (SpeculativeTaskSubmittedEvent) schedulerEvent() {}
func (CompletionEvent) schedulerEvent()               {}
func (TaskSetFailed) schedulerEvent()                 {}
func (ResubmitFailedStages) schedulerEvent()          {}
