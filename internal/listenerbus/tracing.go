package listenerbus

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowstage/dagscheduler/internal/domain"
)

// TracingListener subscribes to a Bus and opens one OpenTelemetry span per
// job and one per stage attempt, closing each on the matching JobEnd /
// StageCompleted event. It never touches scheduler state directly; it only
// ever observes the bus.
type TracingListener struct {
	tracer trace.Tracer

	mu         sync.Mutex
	jobSpans   map[domain.JobID]trace.Span
	stageSpans map[stageAttemptKey]trace.Span
}

type stageAttemptKey struct {
	stage   domain.StageID
	attempt domain.AttemptID
}

// NewTracingListener builds a listener using the given tracer name, the
// usual otel convention for naming the instrumentation library.
func NewTracingListener(tracerName string) *TracingListener {
	return &TracingListener{
		tracer:     otel.Tracer(tracerName),
		jobSpans:   make(map[domain.JobID]trace.Span),
		stageSpans: make(map[stageAttemptKey]trace.Span),
	}
}

// Run drains events from ch until it is closed, updating spans as it goes.
// Callers typically pass the channel returned by Bus.Subscribe and run this
// in its own goroutine.
func (l *TracingListener) Run(ch <-chan Event) {
	for e := range ch {
		l.handle(e)
	}
}

func (l *TracingListener) handle(e Event) {
	switch ev := e.(type) {
	case JobStart:
		_, span := l.tracer.Start(context.Background(), fmt.Sprintf("job-%d", ev.JobID),
			trace.WithAttributes(attribute.Int64("job_id", int64(ev.JobID))))
		l.mu.Lock()
		l.jobSpans[ev.JobID] = span
		l.mu.Unlock()

	case JobEnd:
		l.mu.Lock()
		span, ok := l.jobSpans[ev.JobID]
		delete(l.jobSpans, ev.JobID)
		l.mu.Unlock()
		if !ok {
			return
		}
		if !ev.Success {
			span.SetStatus(codes.Error, errString(ev.Err))
		}
		span.End()

	case StageSubmitted:
		_, span := l.tracer.Start(context.Background(), fmt.Sprintf("stage-%d-attempt-%d", ev.StageID, ev.AttemptNumber),
			trace.WithAttributes(
				attribute.Int64("stage_id", int64(ev.StageID)),
				attribute.Int("attempt_number", int(ev.AttemptNumber)),
			))
		l.mu.Lock()
		l.stageSpans[stageAttemptKey{ev.StageID, ev.AttemptNumber}] = span
		l.mu.Unlock()

	case StageCompleted:
		key := stageAttemptKey{ev.StageID, ev.AttemptNumber}
		l.mu.Lock()
		span, ok := l.stageSpans[key]
		delete(l.stageSpans, key)
		l.mu.Unlock()
		if !ok {
			return
		}
		if ev.FailureReason != "" {
			span.SetStatus(codes.Error, ev.FailureReason)
		}
		span.End()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
