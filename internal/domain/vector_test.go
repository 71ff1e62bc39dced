package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorTextFormat(t *testing.T) {
	v := Vector{1, -0.5, 0.25}
	assert.Equal(t, "[1,-0.5,0.25]", v.String())

	parsed, err := ParseVector(" [1, -0.5,0.25] ")
	require.NoError(t, err)
	assert.Equal(t, v, parsed)

	empty, err := ParseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, bad := range []string{"", "1,2", "[1,x]", "[1,2"} {
		_, err := ParseVector(bad)
		assert.Error(t, err, bad)
	}
}

func TestVectorScanAndValue(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan([]byte("[0.5,2]")))
	assert.Equal(t, Vector{0.5, 2}, v)

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)

	assert.Error(t, v.Scan(42))

	val, err := Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	val, err = Vector{3}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[3]", val)
}

func TestValidateDimension(t *testing.T) {
	assert.NoError(t, ValidateDimension([]float32{1, 2}, 2))
	err := ValidateDimension([]float32{1}, 2)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestClone(t *testing.T) {
	assert.Nil(t, Vector(nil).Clone())
	v := Vector{1, 2}
	c := v.Clone()
	c[0] = 9
	assert.Equal(t, float32(1), v[0])
}
