package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
		{"diagonal", []float32{1, 0}, []float32{0.5, 0.5}, 0.70710678},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestTuningFor(t *testing.T) {
	base := Tuning{SearchBreadth: 64, RescoreDepth: 32}

	assert.Equal(t, Tuning{SearchBreadth: 64, RescoreDepth: 32}, base.For(BudgetDefault, 3))
	assert.Equal(t, Tuning{SearchBreadth: 64, RescoreDepth: 32}, base.For(BudgetBalanced, 3))
	assert.Equal(t, Tuning{SearchBreadth: 32, RescoreDepth: 16}, base.For(BudgetFast, 3))
	assert.Equal(t, Tuning{SearchBreadth: 128, RescoreDepth: 64}, base.For(BudgetPrecise, 3))
	assert.Equal(t, Tuning{SearchBreadth: 100, RescoreDepth: 100}, base.For(BudgetDefault, 100))
}

func TestParseBudget(t *testing.T) {
	for _, s := range []string{"", "fast", "balanced", "precise"} {
		b, err := ParseBudget(s)
		require.NoError(t, err)
		assert.Equal(t, Budget(s), b)
	}
	_, err := ParseBudget("turbo")
	assert.Error(t, err)
}
