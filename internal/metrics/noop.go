package metrics

import "context"

// Noop discards all metrics.
type Noop struct{}

// NewNoop returns a Collector that records nothing.
func NewNoop() *Noop {
	return &Noop{}
}

func (Noop) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {}

func (Noop) RecordError(ctx context.Context, operation string, errorType string) {}

func (Noop) SetIndexSize(ctx context.Context, backend string, size int64) {}
