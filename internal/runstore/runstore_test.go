package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A second open against the same file finds the schema up to date.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	runs, err := s.ListRuns(5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	r, err := s.BeginRun("sequence", "parameters/ptv.par", 10001, 10004)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StatusRunning, r.Status)

	got, err := s.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "sequence", got.Kind)
	assert.Equal(t, "parameters/ptv.par", got.ParamsPath)
	assert.Equal(t, 10001, got.FrameFirst)
	assert.Equal(t, 10004, got.FrameLast)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.FinishedNs)
	assert.Greater(t, got.StartedNs, int64(0))

	require.NoError(t, s.FinishRun(r.ID, nil))
	got, err = s.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.FinishedNs)
	assert.GreaterOrEqual(t, *got.FinishedNs, got.StartedNs)
}

func TestFinishRunRecordsFailure(t *testing.T) {
	s := openTestStore(t)

	r, err := s.BeginRun("tracking", "parameters/ptv.par", 1, 3)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(r.ID, errors.New("frame source image missing")))

	got, err := s.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "frame source image missing", got.Error)
	assert.NotNil(t, got.FinishedNs)
}

func TestGetRunUnknownID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun("no-such-run")
	assert.Error(t, err)
}

func TestRecordFrameUpsert(t *testing.T) {
	s := openTestStore(t)

	r, err := s.BeginRun("sequence", "parameters/ptv.par", 1, 2)
	require.NoError(t, err)

	// Sequence stage records targets and correspondence classes.
	require.NoError(t, s.RecordFrame(r.ID, FrameStat{
		Frame:   1,
		Targets: []int{12, 11},
		Classes: []int{9, 0, 0},
	}))
	require.NoError(t, s.RecordFrame(r.ID, FrameStat{
		Frame:   2,
		Targets: []int{10, 10},
		Classes: []int{8, 0, 0},
	}))

	// The tracking stage re-records the same frames with link counts;
	// links accumulate, stats are replaced.
	require.NoError(t, s.RecordFrame(r.ID, FrameStat{
		Frame:   1,
		Targets: []int{12, 11},
		Classes: []int{9, 0, 0},
		Links:   7,
	}))

	stats, err := s.RunFrames(r.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, 1, stats[0].Frame)
	assert.Equal(t, []int{12, 11}, stats[0].Targets)
	assert.Equal(t, []int{9, 0, 0}, stats[0].Classes)
	assert.Equal(t, 7, stats[0].Links)

	assert.Equal(t, 2, stats[1].Frame)
	assert.Equal(t, 0, stats[1].Links)
}

func TestRunFramesEmptyStats(t *testing.T) {
	s := openTestStore(t)

	r, err := s.BeginRun("tracking", "parameters/ptv.par", 5, 5)
	require.NoError(t, err)
	require.NoError(t, s.RecordFrame(r.ID, FrameStat{Frame: 5, Links: 3}))

	stats, err := s.RunFrames(r.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Nil(t, stats[0].Targets)
	assert.Nil(t, stats[0].Classes)
	assert.Equal(t, 3, stats[0].Links)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	var ids []string
	for _, kind := range []string{"calibrate", "sequence", "tracking"} {
		r, err := s.BeginRun(kind, "parameters/ptv.par", 1, 1)
		require.NoError(t, err)
		ids = append(ids, r.ID)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	// The limit is honored; non-positive limits fall back to a default.
	runs, err = s.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
