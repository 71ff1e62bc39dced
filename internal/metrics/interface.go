package metrics

import "context"

// Collector records service-level metrics. The Prometheus collector is used by
// the server; Noop keeps tests and the CLI free of global registries.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetIndexSize(ctx context.Context, backend string, size int64)
}
