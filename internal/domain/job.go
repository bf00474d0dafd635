package domain

import "time"

// JobID is a monotonically increasing, process-unique job identifier.
type JobID int64

// CallSite records where a job was submitted from, for error messages and
// telemetry; it carries no scheduling behavior.
type CallSite struct {
	ShortForm string
	LongForm  string
}

// JobListener receives completion notifications for a single ActiveJob. A
// listener that returns an error from TaskSucceeded fails the whole job; a
// panic inside TaskSucceeded is not recovered by the scheduler.
type JobListener interface {
	TaskSucceeded(outputID int, result any) error
	JobFailed(err error)
}

// ActiveJob tracks one in-flight submission: which stage it terminates at,
// how many of its output partitions have finished, and who to notify.
type ActiveJob struct {
	JobID      JobID
	FinalStage *Stage
	CallSite   CallSite
	Listener   JobListener
	Properties map[string]string

	// GroupID is the value of the "spark.jobGroup.id"-equivalent property,
	// read from Properties at submission time and cached here for
	// cancelJobGroup lookups without re-parsing Properties.
	GroupID string

	NumPartitions int
	Finished      []bool
	NumFinished   int

	SubmissionTime time.Time
	FinishedAt     *time.Time
}

// NewActiveJob allocates an ActiveJob with its per-output finished tracking
// array sized and zeroed.
func NewActiveJob(id JobID, finalStage *Stage, callSite CallSite, listener JobListener, props map[string]string, numPartitions int) *ActiveJob {
	groupID := ""
	if props != nil {
		groupID = props["jobGroup.id"]
	}
	return &ActiveJob{
		JobID:         id,
		FinalStage:    finalStage,
		CallSite:      callSite,
		Listener:      listener,
		Properties:    props,
		GroupID:       groupID,
		NumPartitions: numPartitions,
		Finished:      make([]bool, numPartitions),
	}
}

// MarkOutputFinished records output index outputID as complete. It returns
// false if that output was already finished, so callers can guard against
// double-counting a duplicate completion event.
func (j *ActiveJob) MarkOutputFinished(outputID int) bool {
	if outputID < 0 || outputID >= len(j.Finished) || j.Finished[outputID] {
		return false
	}
	j.Finished[outputID] = true
	j.NumFinished++
	return true
}

// IsComplete reports whether every output partition has finished.
func (j *ActiveJob) IsComplete() bool {
	return j.NumFinished == j.NumPartitions
}
