package domain

// Epoch is the map-output tracker's monotone counter, carried by every task
// so stale completions from executors that have since been marked lost can
// be detected without consulting the tracker synchronously.
type Epoch int64

// ExecutorID names a single executor process within the cluster.
type ExecutorID string

// TaskID identifies one task attempt, unique across the lifetime of the
// scheduler process.
type TaskID int64

type taskKind int

const (
	taskKindShuffleMap taskKind = iota
	taskKindResult
)

// Task is the tagged variant of work handed to the task scheduler: either a
// ShuffleMapTask or a ResultTask, never both.
type Task struct {
	ID                 TaskID
	StageID            StageID
	StageAttemptID     AttemptID
	Partition          PartitionID
	TaskAttemptNumber  int
	Epoch              Epoch
	PreferredLocations []TaskLocation
	Barrier            bool
	SerializedClosure  []byte

	kind       taskKind
	shuffleMap *ShuffleMapTask
	result     *ResultTask
}

// ShuffleMapTask computes one partition of a shuffle map stage's output.
type ShuffleMapTask struct {
	ShuffleID ShuffleID
}

// ResultTask computes one output partition of a job's final stage.
type ResultTask struct {
	JobID    JobID
	OutputID int
}

// NewShuffleMapTask builds a Task in the ShuffleMap variant.
func NewShuffleMapTask(base Task, shuffleID ShuffleID) *Task {
	base.kind = taskKindShuffleMap
	base.shuffleMap = &ShuffleMapTask{ShuffleID: shuffleID}
	return &base
}

// NewResultTask builds a Task in the Result variant.
func NewResultTask(base Task, jobID JobID, outputID int) *Task {
	base.kind = taskKindResult
	base.result = &ResultTask{JobID: jobID, OutputID: outputID}
	return &base
}

// IsShuffleMap reports whether this task is the ShuffleMap variant.
func (t *Task) IsShuffleMap() bool { return t.kind == taskKindShuffleMap }

// IsResult reports whether this task is the Result variant.
func (t *Task) IsResult() bool { return t.kind == taskKindResult }

// ShuffleMap returns the ShuffleMap-specific fields and true, or (nil,
// false) if this task is a ResultTask.
func (t *Task) ShuffleMap() (*ShuffleMapTask, bool) {
	if t.kind != taskKindShuffleMap {
		return nil, false
	}
	return t.shuffleMap, true
}

// Result returns the Result-specific fields and true, or (nil, false) if
// this task is a ShuffleMapTask.
func (t *Task) Result() (*ResultTask, bool) {
	if t.kind != taskKindResult {
		return nil, false
	}
	return t.result, true
}

// TaskInfo carries telemetry-facing metadata about one task attempt,
// separate from the scheduling fields on Task itself.
type TaskInfo struct {
	TaskID     TaskID
	ExecutorID ExecutorID
	Host       string
	Speculative bool
}

type taskEndReasonKind int

const (
	ReasonSuccess taskEndReasonKind = iota
	ReasonExceptionFailure
	ReasonFetchFailed
	ReasonResubmitted
	ReasonTaskKilled
	ReasonTaskCommitDenied
	ReasonExecutorLostFailure
	ReasonUnknownReason
)

func (k taskEndReasonKind) String() string {
	switch k {
	case ReasonSuccess:
		return "Success"
	case ReasonExceptionFailure:
		return "ExceptionFailure"
	case ReasonFetchFailed:
		return "FetchFailed"
	case ReasonResubmitted:
		return "Resubmitted"
	case ReasonTaskKilled:
		return "TaskKilled"
	case ReasonTaskCommitDenied:
		return "TaskCommitDenied"
	case ReasonExecutorLostFailure:
		return "ExecutorLostFailure"
	default:
		return "UnknownReason"
	}
}

// TaskEndReason is the tagged-variant outcome of one task attempt. Kind()
// reports the variant; only the accessor named after that variant returns a
// value with ok=true.
type TaskEndReason struct {
	kind taskEndReasonKind

	exceptionFailure  *ExceptionFailure
	fetchFailed       *FetchFailed
	taskKilled        *TaskKilled
	taskCommitDenied  *TaskCommitDenied
	executorLostFailure *ExecutorLostFailure
}

// ExceptionFailure describes a task that failed by throwing/returning an
// error from user code.
type ExceptionFailure struct {
	Description string
	StackTrace  string
}

// FetchFailed describes a reduce-side failure to fetch a shuffle block from
// a remote block manager, the trigger for stage-rebuild recovery.
type FetchFailed struct {
	BlockManagerAddress string
	ShuffleID           ShuffleID
	MapID               int64
	ReduceID            int
	Message             string
}

// TaskKilled describes an externally requested kill (e.g. via
// killTaskAttempt or a barrier-stage-wide kill).
type TaskKilled struct {
	Reason string
}

// TaskCommitDenied describes a task whose output commit was denied by the
// commit coordinator because another attempt already committed.
type TaskCommitDenied struct {
	StageID       StageID
	AttemptNumber AttemptID
	Partition     PartitionID
}

// ExecutorLostFailure describes a task that failed because its executor was
// lost mid-execution.
type ExecutorLostFailure struct {
	ExecutorID ExecutorID
	ExitCause  string
}

func ReasonIsSuccess() TaskEndReason { return TaskEndReason{kind: ReasonSuccess} }

func NewExceptionFailure(f *ExceptionFailure) TaskEndReason {
	return TaskEndReason{kind: ReasonExceptionFailure, exceptionFailure: f}
}

func NewFetchFailed(f *FetchFailed) TaskEndReason {
	return TaskEndReason{kind: ReasonFetchFailed, fetchFailed: f}
}

func NewResubmitted() TaskEndReason { return TaskEndReason{kind: ReasonResubmitted} }

func NewTaskKilled(k *TaskKilled) TaskEndReason {
	return TaskEndReason{kind: ReasonTaskKilled, taskKilled: k}
}

func NewTaskCommitDenied(d *TaskCommitDenied) TaskEndReason {
	return TaskEndReason{kind: ReasonTaskCommitDenied, taskCommitDenied: d}
}

func NewExecutorLostFailure(e *ExecutorLostFailure) TaskEndReason {
	return TaskEndReason{kind: ReasonExecutorLostFailure, executorLostFailure: e}
}

func NewUnknownReason() TaskEndReason { return TaskEndReason{kind: ReasonUnknownReason} }

// Kind reports which variant this reason holds.
func (r TaskEndReason) Kind() taskEndReasonKind { return r.kind }

func (r TaskEndReason) String() string { return r.kind.String() }

func (r TaskEndReason) ExceptionFailure() (*ExceptionFailure, bool) {
	return r.exceptionFailure, r.kind == ReasonExceptionFailure
}

func (r TaskEndReason) FetchFailed() (*FetchFailed, bool) {
	return r.fetchFailed, r.kind == ReasonFetchFailed
}

func (r TaskEndReason) TaskKilled() (*TaskKilled, bool) {
	return r.taskKilled, r.kind == ReasonTaskKilled
}

func (r TaskEndReason) TaskCommitDenied() (*TaskCommitDenied, bool) {
	return r.taskCommitDenied, r.kind == ReasonTaskCommitDenied
}

func (r TaskEndReason) ExecutorLostFailure() (*ExecutorLostFailure, bool) {
	return r.executorLostFailure, r.kind == ReasonExecutorLostFailure
}
