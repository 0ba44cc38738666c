package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensExactlyAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure("createDataset")
	cb.RecordFailure("createDataset")
	assert.Equal(t, StateClosed, cb.State("createDataset"))
	assert.Equal(t, 2, cb.FailureCount("createDataset"))

	cb.RecordFailure("createDataset")
	assert.Equal(t, StateOpen, cb.State("createDataset"))
	assert.Equal(t, 3, cb.FailureCount("createDataset"))
}

func TestBreaker_SuccessResetsClosedCounter(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure("ingestContent")
	cb.RecordFailure("ingestContent")
	cb.RecordSuccess("ingestContent")

	assert.Equal(t, 0, cb.FailureCount("ingestContent"))

	// Two more failures do not open: the streak restarted.
	cb.RecordFailure("ingestContent")
	cb.RecordFailure("ingestContent")
	assert.Equal(t, StateClosed, cb.State("ingestContent"))
}

func TestBreaker_OpenBlocksUntilCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 30*time.Millisecond)

	cb.RecordFailure("runSearch")
	require.Equal(t, StateOpen, cb.State("runSearch"))

	err := cb.Allow("runSearch")
	require.Error(t, err)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "runSearch", openErr.ActionName)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State("runSearch"))
	assert.NoError(t, cb.Allow("runSearch"))
}

func TestBreaker_HalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure("analyzeCode")
	time.Sleep(20 * time.Millisecond)

	// First Allow transitions open -> half-open and admits the trial.
	require.NoError(t, cb.Allow("analyzeCode"))

	// Concurrent second attempt is rejected until the trial resolves.
	assert.Error(t, cb.Allow("analyzeCode"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure("verifyDataset")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow("verifyDataset"))

	cb.RecordSuccess("verifyDataset")
	assert.Equal(t, StateClosed, cb.State("verifyDataset"))
	assert.Equal(t, 0, cb.FailureCount("verifyDataset"))
	assert.NoError(t, cb.Allow("verifyDataset"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.RecordFailure("connectService")
	cb.RecordFailure("connectService")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow("connectService"))

	cb.RecordFailure("connectService")
	err := cb.Allow("connectService")
	assert.Error(t, err, "circuit must reopen immediately on a failed trial")
}

func TestBreaker_UnknownActionIsClosed(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)
	assert.Equal(t, StateClosed, cb.State("neverSeen"))
	assert.NoError(t, cb.Allow("neverSeen"))
}

func TestBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	cb.RecordFailure("buildGraphIndex")
	require.Equal(t, StateOpen, cb.State("buildGraphIndex"))

	cb.Reset("buildGraphIndex")
	assert.Equal(t, StateClosed, cb.State("buildGraphIndex"))
	assert.NoError(t, cb.Allow("buildGraphIndex"))
}

func TestBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	cb.RecordSuccess("healthy")
	cb.RecordFailure("broken")

	stats := cb.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ClosedCount)
	assert.Equal(t, 1, stats.OpenCount)

	require.Contains(t, stats.Actions, "broken")
	assert.Equal(t, StateOpen, stats.Actions["broken"].State)
	assert.Equal(t, 1, stats.Actions["broken"].Failures)
	assert.False(t, stats.Actions["broken"].LastFailure.IsZero())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
