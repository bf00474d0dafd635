package domain

import "time"

// StageID is a process-unique, monotonically increasing stage identifier.
type StageID int64

// AttemptID numbers one execution attempt of a stage, starting at 0.
type AttemptID int

// StageStatus is the coarse scheduling state of a stage. A stage occupies
// exactly one of these at any time; transitions are serialized by the event
// loop.
type StageStatus int

const (
	StageNone StageStatus = iota
	StageWaiting
	StageRunning
	StageFailed
)

func (s StageStatus) String() string {
	switch s {
	case StageWaiting:
		return "waiting"
	case StageRunning:
		return "running"
	case StageFailed:
		return "failed"
	default:
		return "none"
	}
}

// StageInfo captures one attempt of a stage: timing, any failure reason, and
// whether it finished with a pending retry.
type StageInfo struct {
	AttemptNumber     AttemptID
	SubmissionTime    *time.Time
	CompletionTime    *time.Time
	FailureReason     string
	FinishedWithRetry bool
}

type stageKind int

const (
	stageKindShuffleMap stageKind = iota
	stageKindResult
)

// Stage is the unit of task-parallel work with no internal shuffle
// boundary. It is a tagged variant: exactly one of ShuffleMap() or Result()
// returns ok=true for a given Stage.
type Stage struct {
	ID         StageID
	Dataset    *Dataset
	Parents    []*Stage
	FirstJobID JobID
	NumTasks   int

	JobIDs           map[JobID]struct{}
	FailedAttemptIDs map[AttemptID]struct{}
	Attempts         []*StageInfo
	Status           StageStatus

	kind       stageKind
	shuffleMap *ShuffleMapStage
	result     *ResultStage
}

// ShuffleMapStage produces shuffle output consumed by downstream stages (or,
// for a map-stage-only job, by MapStageJobs directly).
type ShuffleMapStage struct {
	ShuffleDep        *ShuffleDependency
	PendingPartitions map[PartitionID]struct{}
	MapStageJobs      []*ActiveJob
}

// ResultStage is terminal: it computes the final output of a job for a
// caller-chosen subset of partitions.
type ResultStage struct {
	Partitions []PartitionID
	ActiveJob  *ActiveJob
}

// NewShuffleMapStage constructs a Stage in the ShuffleMap variant.
func NewShuffleMapStage(id StageID, ds *Dataset, parents []*Stage, firstJobID JobID, dep *ShuffleDependency) *Stage {
	return &Stage{
		ID:               id,
		Dataset:          ds,
		Parents:          parents,
		FirstJobID:       firstJobID,
		NumTasks:         NumPartitionsOf(ds),
		JobIDs:           make(map[JobID]struct{}),
		FailedAttemptIDs: make(map[AttemptID]struct{}),
		kind:             stageKindShuffleMap,
		shuffleMap: &ShuffleMapStage{
			ShuffleDep:        dep,
			PendingPartitions: make(map[PartitionID]struct{}),
		},
	}
}

// NewResultStage constructs a Stage in the Result variant.
func NewResultStage(id StageID, ds *Dataset, parents []*Stage, firstJobID JobID, partitions []PartitionID) *Stage {
	return &Stage{
		ID:               id,
		Dataset:          ds,
		Parents:          parents,
		FirstJobID:       firstJobID,
		NumTasks:         len(partitions),
		JobIDs:           make(map[JobID]struct{}),
		FailedAttemptIDs: make(map[AttemptID]struct{}),
		kind:             stageKindResult,
		result: &ResultStage{
			Partitions: partitions,
		},
	}
}

// IsShuffleMap reports whether this stage is the ShuffleMap variant.
func (s *Stage) IsShuffleMap() bool { return s.kind == stageKindShuffleMap }

// IsResult reports whether this stage is the Result variant.
func (s *Stage) IsResult() bool { return s.kind == stageKindResult }

// ShuffleMap returns the ShuffleMap-specific fields and true, or (nil,
// false) if this stage is a ResultStage.
func (s *Stage) ShuffleMap() (*ShuffleMapStage, bool) {
	if s.kind != stageKindShuffleMap {
		return nil, false
	}
	return s.shuffleMap, true
}

// Result returns the Result-specific fields and true, or (nil, false) if
// this stage is a ShuffleMapStage.
func (s *Stage) Result() (*ResultStage, bool) {
	if s.kind != stageKindResult {
		return nil, false
	}
	return s.result, true
}

// LatestAttempt returns the current (most recent) attempt, or nil if the
// stage has never been submitted.
func (s *Stage) LatestAttempt() *StageInfo {
	if len(s.Attempts) == 0 {
		return nil
	}
	return s.Attempts[len(s.Attempts)-1]
}

// CurrentAttemptNumber returns the attempt number of the latest attempt, or
// -1 if the stage has no attempts yet.
func (s *Stage) CurrentAttemptNumber() AttemptID {
	a := s.LatestAttempt()
	if a == nil {
		return -1
	}
	return a.AttemptNumber
}

// AddJobID adds a job to this stage's membership set.
func (s *Stage) AddJobID(id JobID) {
	if s.JobIDs == nil {
		s.JobIDs = make(map[JobID]struct{})
	}
	s.JobIDs[id] = struct{}{}
}

// HasJobID reports whether a job is a member of this stage.
func (s *Stage) HasJobID(id JobID) bool {
	_, ok := s.JobIDs[id]
	return ok
}

// RemoveJobID removes a job from this stage's membership set.
func (s *Stage) RemoveJobID(id JobID) {
	delete(s.JobIDs, id)
}
