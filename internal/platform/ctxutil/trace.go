package ctxutil

import "context"

type traceDataKey struct{}

// TraceData carries request-correlation identifiers across a job's
// lifetime: from the upward API call that submitted it, through event-loop
// processing, to the telemetry the listener bus emits about it.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
