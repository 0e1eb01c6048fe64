package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenCreatesMissingDatabase(t *testing.T) {
	s, _ := newStore(t)
	require.NotNil(t, s)
}

func TestOpenIsIdempotent(t *testing.T) {
	s, path := newStore(t)
	require.NoError(t, s.StartSession("s1", "do a thing"))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = again.Close() }()

	rec, err := again.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "do a thing", rec.Goal)
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.StartSession("s1", "add a healthcheck endpoint"))

	rec, err := s.GetSession("s1")
	require.NoError(t, err)
	assert.Empty(t, rec.Outcome)
	assert.False(t, rec.EndedAt.Valid)

	require.NoError(t, s.EndSession("s1", "accepted", 1200, 340, 0.0087))

	rec, err = s.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "accepted", rec.Outcome)
	assert.True(t, rec.EndedAt.Valid)
	assert.Equal(t, 1200, rec.InputTokens)
	assert.Equal(t, 340, rec.OutputTokens)
	assert.InDelta(t, 0.0087, rec.CostUSD, 1e-9)
}

func TestIterationsOrderedByStepThenAttempt(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.StartSession("s1", "goal"))

	records := []IterationRecord{
		{SessionID: "s1", Step: 1, Attempt: 1, Outcome: "retrying", CheckpointID: "aaa", DiagnosticCount: 3, ErrorCount: 2},
		{SessionID: "s1", Step: 1, Attempt: 2, Outcome: "accepted", CheckpointID: "bbb"},
		{SessionID: "s1", Step: 2, Attempt: 1, Outcome: "accepted", CheckpointID: "ccc"},
	}
	for i := range records {
		require.NoError(t, s.RecordIteration(&records[i]))
	}

	got, err := s.ListIterations("s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, 1, got[0].Attempt)
	assert.Equal(t, 2, got[0].ErrorCount)
	assert.Equal(t, 2, got[1].Attempt)
	assert.Equal(t, 2, got[2].Step)
}

func TestGetSessionUnknown(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.GetSession("nope")
	require.Error(t, err)
}
