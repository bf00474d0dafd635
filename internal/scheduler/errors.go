package scheduler

import (
	"fmt"

	"github.com/flowstage/dagscheduler/internal/domain"
)

// SubmissionValidationError reports a synchronous, submission-time job
// rejection: an out-of-range partition index, an empty map-stage dataset, or
// a barrier-incompatible topology.
type SubmissionValidationError struct {
	JobID  domain.JobID
	Reason string
}

func (e *SubmissionValidationError) Error() string {
	return fmt.Sprintf("job %d failed submission validation: %s", e.JobID, e.Reason)
}

// StageConstructionError reports that a stage could not be built because
// underlying input data is missing (e.g. a source file deleted out from
// under the job).
type StageConstructionError struct {
	DatasetID domain.DatasetID
	Cause     error
}

func (e *StageConstructionError) Error() string {
	return fmt.Sprintf("stage construction failed for dataset %d: %v", e.DatasetID, e.Cause)
}

func (e *StageConstructionError) Unwrap() error { return e.Cause }

// SerializationError reports that a task closure could not be serialized.
type SerializationError struct {
	StageID domain.StageID
	Cause   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize task closure for stage %d: %v", e.StageID, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// FetchFailureError marks a stage as failed pending resubmission; it is
// recovered locally and never surfaced past the event loop.
type FetchFailureError struct {
	ShuffleID domain.ShuffleID
	MapID     int64
	Executor  domain.ExecutorID
}

func (e *FetchFailureError) Error() string {
	return fmt.Sprintf("fetch failed: shuffle=%d map=%d executor=%s", e.ShuffleID, e.MapID, e.Executor)
}

// StageAbortedError is a terminal stage failure: the consecutive-attempt
// budget was exhausted, a barrier stage had already committed partial
// output, or an indeterminate-output rollback required abandoning the
// stage's dependents.
type StageAbortedError struct {
	StageID domain.StageID
	Message string
}

func (e *StageAbortedError) Error() string {
	return fmt.Sprintf("stage %d aborted: %s", e.StageID, e.Message)
}

// SchedulerStoppedError is returned to every still-active job when the
// scheduler shuts down.
type SchedulerStoppedError struct{}

func (e *SchedulerStoppedError) Error() string { return "scheduler shut down" }
