package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorMatchesKindAndCause(t *testing.T) {
	err := stageErr(ErrRerank, "rerank", context.DeadlineExceeded)
	wrapped := fmt.Errorf("query: %w", err)

	assert.ErrorIs(t, wrapped, ErrRerank)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.NotErrorIs(t, wrapped, ErrGeneration)
	assert.Equal(t, ErrRerank, Kind(wrapped))

	var se *StageError
	assert.True(t, errors.As(wrapped, &se))
	assert.Equal(t, "rerank", se.Stage)
}

func TestKind(t *testing.T) {
	assert.Equal(t, ErrValidation, Kind(validationErr("limit must be positive, got %d", 0)))
	assert.Nil(t, Kind(errors.New("boom")))
	assert.Nil(t, Kind(nil))
}
