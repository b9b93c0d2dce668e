package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStorageCircuitAllowedWhenClosed(t *testing.T) {
	sc := NewStorageCircuit(3, time.Second)
	assert.True(t, sc.Allowed())
	assert.Equal(t, "closed", sc.State())
}

func TestStorageCircuitTripsAfterConsecutiveFailures(t *testing.T) {
	sc := NewStorageCircuit(3, time.Minute)
	boom := errors.New("backend unreachable")

	for i := 0; i < 3; i++ {
		err := sc.Do(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.False(t, sc.Allowed())
	assert.Equal(t, "open", sc.State())
}

func TestStorageCircuitStaysClosedOnIntermittentSuccess(t *testing.T) {
	sc := NewStorageCircuit(3, time.Minute)
	boom := errors.New("backend unreachable")

	sc.Do(context.Background(), func() error { return boom })
	sc.Do(context.Background(), func() error { return nil })
	sc.Do(context.Background(), func() error { return boom })

	assert.True(t, sc.Allowed())
	assert.Equal(t, "closed", sc.State())
}

func TestStorageCircuitHalfOpensAfterTimeout(t *testing.T) {
	sc := NewStorageCircuit(1, 10*time.Millisecond)
	boom := errors.New("backend unreachable")

	sc.Do(context.Background(), func() error { return boom })
	assert.Equal(t, "open", sc.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "half-open", sc.State())
}
