package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/msalinas92/cachebolt/internal/config"
)

func baseConfig() config.LatencyFailover {
	return config.LatencyFailover{
		DefaultMaxLatencyMs: 100,
		FailoverWindowSecs:  1,
	}
}

func TestNotDegradedInitially(t *testing.T) {
	c := NewURICircuit(baseConfig())
	assert.False(t, c.ShouldFailover("/x"))
}

func TestLatencyBreachTriggersFailover(t *testing.T) {
	c := NewURICircuit(baseConfig())
	c.RecordLatency("/x", 200*time.Millisecond)
	assert.True(t, c.ShouldFailover("/x"))
}

func TestLatencyUnderThresholdDoesNotTriggerFailover(t *testing.T) {
	c := NewURICircuit(baseConfig())
	c.RecordLatency("/x", 50*time.Millisecond)
	assert.False(t, c.ShouldFailover("/x"))
}

func TestFailureTriggersFailover(t *testing.T) {
	c := NewURICircuit(baseConfig())
	c.RecordFailure("/x")
	assert.True(t, c.ShouldFailover("/x"))
}

func TestFailoverWindowExpires(t *testing.T) {
	cfg := baseConfig()
	cfg.FailoverWindowSecs = 0
	c := NewURICircuit(cfg)
	c.window = 10 * time.Millisecond

	c.RecordFailure("/x")
	assert.True(t, c.ShouldFailover("/x"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.ShouldFailover("/x"))
}

func TestFailoverIsPerPath(t *testing.T) {
	c := NewURICircuit(baseConfig())
	c.RecordFailure("/x")
	assert.True(t, c.ShouldFailover("/x"))
	assert.False(t, c.ShouldFailover("/y"))
}

func TestPathRuleOverridesDefaultThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.PathRules = []config.PathRule{
		{Pattern: "^/slow/", MaxLatencyMs: 5000},
	}
	if err := cfg.PathRules[0].Compile(); err != nil {
		t.Fatalf("compiling path rule: %v", err)
	}

	c := NewURICircuit(cfg)
	// Within the overridden threshold for /slow/, below the default.
	c.RecordLatency("/slow/report", 1*time.Second)
	assert.False(t, c.ShouldFailover("/slow/report"))

	// Above the default threshold on a path with no override.
	c.RecordLatency("/fast/report", 1*time.Second)
	assert.True(t, c.ShouldFailover("/fast/report"))
}

func TestSnapshotListsOnlyDegradedPaths(t *testing.T) {
	c := NewURICircuit(baseConfig())
	c.RecordFailure("/x")
	assert.Contains(t, c.Snapshot(), "/x")
	assert.NotContains(t, c.Snapshot(), "/y")
}
