package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/timmy/kindred/internal/index"
	"github.com/timmy/kindred/internal/logger"
)

func TestWarnDetachedIndex(t *testing.T) {
	tests := []struct {
		name string
		idx  index.Index
		want bool
	}{
		{name: "exact", idx: index.NewExact(2), want: true},
		{name: "graph", idx: index.NewGraph(index.GraphOptions{Dimension: 2}), want: true},
		{name: "pgvector", idx: index.NewPGVector(nil, 2, "none", index.Tuning{}), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.New(&logger.Config{Level: "info", Format: "json", Output: &buf})

			assert.Equal(t, tt.want, warnDetachedIndex(log, tt.idx))
			if tt.want {
				assert.Contains(t, buf.String(), `"level":"warning"`)
				assert.Contains(t, buf.String(), "/api/v1/admin/reconcile")
				assert.Contains(t, buf.String(), tt.idx.Backend())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
