package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageConnect, 500)
	w.Observe(StageConnect, 700)
	w.Observe(StageConnect, 900)
	w.Observe(StageConnect, -1)
	w.Count("completed")
	w.Count("completed")
	w.Count(" ")

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)
	s := snap.Stages[0]
	assert.Equal(t, StageConnect, s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 900.0, s.LastMS)
	assert.Equal(t, 700.0, s.P50MS)
	assert.Greater(t, s.P95MS, 700.0)
	assert.LessOrEqual(t, s.P95MS, 900.0)
	assert.Equal(t, 3000.0, s.TargetP95MS)
	assert.Equal(t, []EventCount{{Name: "completed", Count: 2}}, snap.Events)
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.Observe(StagePersist, 10)
	w.Observe(StagePersist, 20)
	w.Observe(StagePersist, 30)

	s := w.Snapshot().Stages[0]
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 25.0, s.AvgMS)
	assert.Equal(t, 30.0, s.LastMS)
}

func TestNilMetricsSnapshotIsEmpty(t *testing.T) {
	var m *Metrics
	m.ObserveStage(StageFinalize, time.Second)
	m.SessionEvent("completed")
	snap := m.LatencySnapshot()
	assert.Empty(t, snap.Stages)
	assert.Empty(t, snap.Events)
}
