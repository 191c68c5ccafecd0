package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name     string `json:"name" validate:"required"`
	Capacity int    `json:"capacity_limit" validate:"gte=0"`
	Ignored  string `json:"-"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(&sample{Name: "10K"}))

	err := Struct(&sample{Capacity: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name required")
	assert.Contains(t, err.Error(), "capacity_limit gte=0")
}

func TestStructRejectsNonStruct(t *testing.T) {
	assert.EqualError(t, Struct(nil), "is nil")
	assert.EqualError(t, Struct(42), "not a struct")
}
