package utils

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHoursSinceAndAddHours(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	later := AddHours(base, 1.5)

	assert.Equal(t, base.Add(90*time.Minute), later)
	assert.InDelta(t, 1.5, HoursSince(base, later), 1e-9)
	assert.InDelta(t, -1.5, HoursSince(later, base), 1e-9)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 4.36, Round(4.3589, 2))
	assert.Equal(t, -1.24, Round(-1.2351, 2))
	assert.True(t, math.IsInf(Round(math.Inf(1), 2), 1))
}

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := NewAppError("sqlite.WriteSamples", "insert samples", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "sqlite.WriteSamples", Op(err))
	assert.Equal(t, "sqlite.WriteSamples: insert samples: disk full", err.Error())
	assert.Empty(t, Op(base))
}
