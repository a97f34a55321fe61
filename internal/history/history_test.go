package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Inputs:     []string{"slides.zip"},
		Output:     "/out/tiles.zip",
		Status:     StatusPartial,
		Total:      3,
		Succeeded:  2,
		Failed:     1,
		Tiles:      40,
		Strategy:   "fraction(0.2)",
		BatchSize:  1,
		Batches:    3,
		Images: []Image{
			{Name: "a", Source: "slides.zip:a.svs", Status: "succeeded", Tiles: 25, Duration: 40 * time.Second},
			{Name: "b", Source: "slides.zip:b.svs", Status: "failed", Reason: "timeout", Error: "exceeded 30m"},
			{Name: "c", Source: "slides.zip:c.svs", Status: "succeeded", Tiles: 15, Duration: 20 * time.Second},
		},
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)

	require.NoError(t, s.Record(ctx, sampleRun("01RUN", started)))

	got, err := s.Get(ctx, "01RUN")
	require.NoError(t, err)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, 90*time.Second, got.Duration())
	assert.Equal(t, []string{"slides.zip"}, got.Inputs)
	assert.Equal(t, StatusPartial, got.Status)
	require.Len(t, got.Images, 3)
	assert.Equal(t, "b", got.Images[1].Name)
	assert.Equal(t, "timeout", got.Images[1].Reason)
	assert.Equal(t, 40*time.Second, got.Images[0].Duration)
}

func TestStore_GetUnknown(t *testing.T) {
	_, err := openStore(t).Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_DuplicateIDRollsBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := sampleRun("dup", time.Now())

	require.NoError(t, s.Record(ctx, run))
	require.Error(t, s.Record(ctx, run))

	got, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, got.Images, 3)
}

func TestStore_ListAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.Record(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.Empty(t, runs[0].Images)

	removed, err := s.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	runs, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r3", runs[0].ID)
}
