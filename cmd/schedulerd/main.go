// Command schedulerd wires a Scheduler and its collaborators behind an
// HTTP/SSE control surface: POST /jobs submits a job built from a named
// recipe, DELETE /jobs/:id cancels it, and GET /jobs/:id/events streams its
// listener-bus telemetry. The scheduler's own upward API (SubmitJob et al.)
// takes a *domain.Dataset graph built in Go, not JSON — same as an
// embedding library would be used directly — so this daemon exists to
// demonstrate and exercise that API over the network, not to accept
// arbitrary user-submitted computation graphs.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowstage/dagscheduler/internal/blockmanager"
	"github.com/flowstage/dagscheduler/internal/commitcoordinator"
	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/listenerbus"
	"github.com/flowstage/dagscheduler/internal/mapoutput"
	"github.com/flowstage/dagscheduler/internal/platform/ctxutil"
	"github.com/flowstage/dagscheduler/internal/platform/envutil"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
	"github.com/flowstage/dagscheduler/internal/scheduler"
	"github.com/flowstage/dagscheduler/internal/taskscheduler"
)

func main() {
	mode := os.Getenv("DAG_LOG_MODE")
	log, err := logger.New(mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := scheduler.LoadConfig(os.Getenv("DAG_CONFIG_FILE"))
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	bm := blockmanager.NewInMemoryMaster()
	mapOutputs := mapoutput.NewInMemoryTracker()
	bus := listenerbus.New(log)
	commit := commitcoordinator.NewInMemory()

	localSched := taskscheduler.NewLocalTaskScheduler(demoExecute, envutil.Int("DAG_LOCAL_CONCURRENCY", 8), log)

	sched := scheduler.New(cfg, log, bm, mapOutputs, localSched, commit, bus)
	go sched.Run()
	defer sched.Stop()

	srv := &server{scheduler: sched, bus: bus, log: log.With("component", "cmd.schedulerd")}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
	}))
	router.Use(attachTraceContext())
	router.Use(requestLogger(log))

	router.GET("/healthcheck", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := router.Group("/jobs")
	api.POST("", srv.submitJob)
	api.DELETE("/:id", srv.cancelJob)
	api.GET("/:id/events", srv.streamJobEvents)

	addr := envutil.String("DAG_LISTEN_ADDR", ":8080")
	log.Info("schedulerd listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Fatal("server exited", "error", err)
	}
}

type server struct {
	scheduler *scheduler.Scheduler
	bus       *listenerbus.Bus
	log       *logger.Logger
}

type submitJobRequest struct {
	Recipe     string            `json:"recipe" binding:"required"`
	Partitions []int             `json:"partitions"`
	Properties map[string]string `json:"properties"`
}

// submitJob builds the named demo dataset graph and submits it, returning
// the minted job id immediately; callers follow up with
// GET /jobs/:id/events for progress.
func (s *server) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ds, ok := demoRecipes[req.Recipe]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown recipe %q", req.Recipe)})
		return
	}
	dataset := ds()
	partitions := make([]domain.PartitionID, len(req.Partitions))
	for i, p := range req.Partitions {
		partitions[i] = domain.PartitionID(p)
	}
	if len(partitions) == 0 {
		partitions = make([]domain.PartitionID, dataset.NumPartitions)
		for i := range partitions {
			partitions[i] = domain.PartitionID(i)
		}
	}

	properties := req.Properties
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		if properties == nil {
			properties = make(map[string]string, 2)
		}
		properties["traceID"] = td.TraceID
		properties["requestID"] = td.RequestID
	}

	waiter, err := s.scheduler.SubmitJob(dataset, partitions, domain.CallSite{ShortForm: req.Recipe}, properties, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": waiter.JobID()})
}

func (s *server) cancelJob(c *gin.Context) {
	jobID, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.scheduler.CancelJob(jobID, "cancelled via API")
	c.Status(http.StatusNoContent)
}

// streamJobEvents bridges the listener bus to one SSE connection, filtering
// to events that carry the requested job id (JobStart/JobEnd directly,
// StageSubmitted/StageCompleted/task events are broadcast unfiltered since
// stages can be shared across jobs).
func (s *server) streamJobEvents(c *gin.Context) {
	jobID, err := parseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subID, ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(subID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", "")
			return true
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if !eventMatchesJob(ev, jobID) {
				return true
			}
			c.SSEvent("message", ev)
			done := isTerminalJobEvent(ev, jobID)
			return !done
		}
	})
}

func eventMatchesJob(ev listenerbus.Event, jobID domain.JobID) bool {
	switch e := ev.(type) {
	case listenerbus.JobStart:
		return e.JobID == jobID
	case listenerbus.JobEnd:
		return e.JobID == jobID
	default:
		// Stage/task events carry no job id directly (a stage can be
		// shared across jobs); forward them all and let the client
		// correlate by stage id if it cares.
		return true
	}
}

func isTerminalJobEvent(ev listenerbus.Event, jobID domain.JobID) bool {
	end, ok := ev.(listenerbus.JobEnd)
	return ok && end.JobID == jobID
}

func parseJobID(raw string) (domain.JobID, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", raw, err)
	}
	return domain.JobID(n), nil
}

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// attachTraceContext stamps a trace id and request id onto the request
// context (minting either one that isn't already present on an inbound
// header), so downstream handlers and the job properties they build carry
// the same correlation ids the response headers echo back to the caller.
func attachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// requestLogger logs one structured line per request, tagging it with the
// trace/request ids attachTraceContext stamped into the context.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "traceID", td.TraceID, "requestID", td.RequestID)
		}
		log.Info("http request", fields...)
	}
}

// demoExecute is the LocalTaskScheduler's ExecuteFunc for schedulerd's demo
// recipes: it sleeps briefly to simulate work and always succeeds. A real
// deployment would swap this (or the whole TaskScheduler) for one that
// actually dispatches to worker processes.
func demoExecute(ctx context.Context, task *domain.Task) (any, domain.TaskEndReason, []domain.AccumulatorUpdate) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return nil, domain.NewExceptionFailure(&domain.ExceptionFailure{Description: ctx.Err().Error()}), nil
	}
	return int(task.Partition), domain.ReasonIsSuccess(), nil
}

// demoRecipes are the dataset graphs schedulerd knows how to build by name.
// A real embedding caller builds and submits its own *domain.Dataset graphs
// directly through the Go API instead of naming one of these.
var demoRecipes = map[string]func() *domain.Dataset{
	"single-stage": func() *domain.Dataset {
		return &domain.Dataset{ID: 1, NumPartitions: 4}
	},
	"shuffle-pair": func() *domain.Dataset {
		mapSide := &domain.Dataset{ID: 1, NumPartitions: 4}
		shuffleDep := &domain.ShuffleDependency{ShuffleID: 1, Parent: mapSide}
		reduceSide := &domain.Dataset{
			ID:            2,
			NumPartitions: 4,
			Dependencies:  []domain.Dependency{domain.NewShuffleDependency(shuffleDep)},
		}
		return reduceSide
	},
}
