package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowstage/dagscheduler/internal/blockmanager"
	"github.com/flowstage/dagscheduler/internal/commitcoordinator"
	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/listenerbus"
	"github.com/flowstage/dagscheduler/internal/mapoutput"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
	"github.com/flowstage/dagscheduler/internal/taskscheduler"
)

// eventQueue is the single-consumer, unbounded FIFO the event loop drains.
// A plain buffered channel cannot give both "never blocks the poster" and
// "unbounded": a bounded channel either blocks once full or drops events
// under select-default. This pairs a mutex-guarded slice with a
// buffered-by-one wakeup channel instead, which gives posters an
// always-succeeds, always-non-blocking Push and gives the single consumer a
// way to sleep when idle rather than spin.
type eventQueue struct {
	mu     sync.Mutex
	items  []domain.SchedulerEvent
	wakeup chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wakeup: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e domain.SchedulerEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []domain.SchedulerEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// Scheduler is the DAG scheduler's control plane: the single-consumer event
// loop plus every piece of state it owns exclusively (registry, lineage
// walker, cache-location index, failure epoch tracker, failed-stages set).
// Every field below is touched only from the loop goroutine started by Run,
// except cacheIndex (internally synchronized, §4.3), the queue itself and
// jobIDSeq (atomic, see below).
type Scheduler struct {
	cfg Config
	log *logger.Logger

	registry     *Registry
	lineage      *LineageWalker
	cacheIndex   *CacheLocationIndex
	epochs       *FailureEpochTracker
	mapOutputs   mapoutput.Tracker
	blockManager blockmanager.Master
	taskSched    taskscheduler.TaskScheduler
	commit       commitcoordinator.Coordinator
	bus          *listenerbus.Bus
	resubmit   *ResubmissionTimer
	barrierTimer *ResubmissionTimer

	queue *eventQueue
	done  chan struct{}

	// jobIDSeq mints job ids. Unlike every other field here, it is touched
	// from arbitrary caller goroutines (api.go must hand back a JobID before
	// the event loop has seen the JobSubmitted event), hence the atomic.
	jobIDSeq atomic.Int64

	// nextTaskID mints task ids; only ever touched from the loop goroutine
	// during stage submission.
	nextTaskID domain.TaskID

	// failedStages collects stages needing resubmission between debounce
	// windows; ResubmitFailedStages drains it in ascending FirstJobID order.
	failedStages map[domain.StageID]*domain.Stage

	// barrierRetries counts barrier-stage admission retries per stage, reset
	// once a stage is admitted.
	barrierRetries map[domain.StageID]int
}

// New wires a Scheduler from its collaborators and registers it as
// taskSched's callback target via SetDAGScheduler. The caller owns starting
// and stopping it (Run/Stop).
func New(cfg Config, log *logger.Logger, bm blockmanager.Master, mapOutputs mapoutput.Tracker, taskSched taskscheduler.TaskScheduler, commit commitcoordinator.Coordinator, bus *listenerbus.Bus) *Scheduler {
	cacheIndex := NewCacheLocationIndex(bm)
	registry := NewRegistry(cacheIndex, mapOutputs)
	lineage := NewLineageWalker(registry)
	registry.SetLineageWalker(lineage)

	s := &Scheduler{
		cfg:          cfg,
		log:          log.With("component", "scheduler.Scheduler"),
		registry:     registry,
		lineage:      lineage,
		cacheIndex:   cacheIndex,
		epochs:       NewFailureEpochTracker(),
		mapOutputs:   mapOutputs,
		blockManager: bm,
		taskSched:    taskSched,
		commit:       commit,
		bus:          bus,
		queue:          newEventQueue(),
		done:           make(chan struct{}),
		failedStages:   make(map[domain.StageID]*domain.Stage),
		barrierRetries: make(map[domain.StageID]int),
	}
	s.resubmit = NewResubmissionTimer(s.PostEvent, cfg.ResubmitTimeout)
	s.barrierTimer = NewResubmissionTimer(s.PostEvent, cfg.BarrierMaxConcurrentTasksCheckInterval)
	taskSched.SetDAGScheduler(s)
	return s
}

// PostEvent enqueues e for the event loop and returns immediately. It is
// the only thread-safe entry point into scheduler state from outside the
// loop goroutine; it implements taskscheduler.Callbacks.
func (s *Scheduler) PostEvent(e domain.SchedulerEvent) {
	s.queue.push(e)
}

// Run drains the event queue until Stop is called. It must run on exactly
// one goroutine for the life of the scheduler.
func (s *Scheduler) Run() {
	for {
		items := s.queue.drain()
		if len(items) == 0 {
			select {
			case <-s.queue.wakeup:
				continue
			case <-s.done:
				s.cleanUpAfterSchedulerStop()
				return
			}
		}
		for _, e := range items {
			s.dispatch(e)
		}
	}
}

// Stop signals Run to exit after finishing any already-drained batch.
func (s *Scheduler) Stop() {
	close(s.done)
	s.resubmit.Stop()
	s.barrierTimer.Stop()
}

func (s *Scheduler) dispatch(e domain.SchedulerEvent) {
	switch ev := e.(type) {
	case domain.JobSubmitted:
		s.handleJobSubmitted(ev)
	case domain.MapStageSubmitted:
		s.handleMapStageSubmitted(ev)
	case domain.StageCancelled:
		s.handleStageCancelled(ev)
	case domain.JobCancelled:
		s.handleJobCancelled(ev)
	case domain.JobGroupCancelled:
		s.handleJobGroupCancelled(ev)
	case domain.AllJobsCancelled:
		s.handleAllJobsCancelled(ev)
	case domain.ExecutorAdded:
		s.epochs.ClearExecutor(ev.ExecutorID)
		if s.blockManager != nil {
			hbCtx, cancel := context.WithTimeout(context.Background(), s.cfg.BlockManagerHeartbeatTimeout)
			if err := s.blockManager.Heartbeat(dbctx.Context{Ctx: hbCtx}, ev.ExecutorID); err != nil {
				s.log.Warn("block manager heartbeat failed for newly added executor", "executorID", ev.ExecutorID, "error", err)
			}
			cancel()
		}
	case domain.ExecutorLost:
		s.handleExecutorLost(ev)
	case domain.WorkerRemoved:
		s.handleWorkerRemoved(ev)
	case domain.BeginEvent:
		s.bus.Post(listenerbus.TaskStart{Task: ev.Task})
	case domain.GettingResultEvent:
		s.bus.Post(listenerbus.TaskGettingResult{Task: ev.Task})
	case domain.SpeculativeTaskSubmittedEvent:
		s.bus.Post(listenerbus.SpeculativeTaskSubmitted{Task: ev.Task})
	case domain.CompletionEvent:
		s.handleCompletionEvent(ev)
	case domain.TaskSetFailed:
		s.handleTaskSetFailed(ev)
	case domain.ResubmitFailedStages:
		s.handleResubmitFailedStages()
	default:
		s.log.Warn("unknown scheduler event type, dropping", "type", e)
	}
}

// cleanUpAfterSchedulerStop fails every active job with a shutdown message
// and notifies listeners of stage cancellation (§7 policy 6).
func (s *Scheduler) cleanUpAfterSchedulerStop() {
	stopped := &SchedulerStoppedError{}
	now := time.Now()
	for _, stage := range s.registry.stages {
		if stage.Status == domain.StageRunning {
			s.bus.Post(listenerbus.StageCompleted{StageID: stage.ID, AttemptNumber: stage.CurrentAttemptNumber(), FailureReason: stopped.Error(), At: now})
		}
	}
	for _, jobID := range s.registry.ActiveJobIDs() {
		job, ok := s.registry.JobByID(jobID)
		if !ok {
			continue
		}
		s.failJob(job, stopped)
	}
}
