package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"searchpulse/internal/types"
)

func TestValuesPlaceholders(t *testing.T) {
	assert.Equal(t, "($1,$2)", valuesPlaceholders(1, 2))
	assert.Equal(t, "($1,$2),($3,$4)", valuesPlaceholders(2, 2))
	assert.Equal(t, "($1,$2,$3)", valuesPlaceholders(1, 3))
	assert.Equal(t, "($1),($2),($3)", valuesPlaceholders(3, 1))
}

func TestBatchBounds(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, batchBounds(5, 2))
	assert.Equal(t, [][2]int{{0, 3}}, batchBounds(3, 10))
	assert.Nil(t, batchBounds(0, 2))

	// A non-positive batch size falls back to the default.
	bounds := batchBounds(2500, 0)
	assert.Equal(t, [][2]int{{0, 1000}, {1000, 2000}, {2000, 2500}}, bounds)
}

func TestWriteBatchError_CarriesKeyRange(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := writeBatchError("search_facts", 2, 2000, 3000, cause)

	assert.Equal(t, types.ErrCodeWriteBatchFailed, err.Code)
	assert.Equal(t, "search_facts", err.Details["table"])
	assert.Equal(t, 2, err.Details["batch"])
	assert.Equal(t, 2000, err.Details["row_start"])
	assert.Equal(t, 3000, err.Details["row_end"])
	assert.ErrorIs(t, err, cause)
}
