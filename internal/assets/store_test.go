package assets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordJob(ctx, Job{SubscriptionKey: "sub-1", TaskUUID: "task-1", Prompt: "blue shirt", ImageCount: 1}))

	job, err := s.Job(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", job.TaskUUID)
	assert.Equal(t, "blue shirt", job.Prompt)
	assert.Equal(t, PhasePending, job.Phase)
	assert.Empty(t, job.Statuses)
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.Terminal())
}

func TestJobNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Job(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestTerminalPhaseNeverReverts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordJob(ctx, Job{SubscriptionKey: "sub-1", TaskUUID: "task-1"}))

	job, err := s.UpdateJobStatus(ctx, "sub-1", PhasePending, []string{"Done", "Generating"})
	require.NoError(t, err)
	assert.Equal(t, PhasePending, job.Phase)

	job, err = s.UpdateJobStatus(ctx, "sub-1", PhaseSucceeded, []string{"Done", "Done"})
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, job.Phase)

	job, err = s.UpdateJobStatus(ctx, "sub-1", PhasePending, []string{"Waiting"})
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, job.Phase)
	assert.Equal(t, []string{"Done", "Done"}, job.Statuses)

	require.NoError(t, s.RecordJob(ctx, Job{SubscriptionKey: "sub-1", TaskUUID: "task-1"}))
	job, err = s.Job(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, job.Terminal())
}

func TestUpdateJobStatusInsertsUnknownKey(t *testing.T) {
	s := openTestStore(t)
	job, err := s.UpdateJobStatus(context.Background(), "resumed", PhaseFailed, []string{"Failed"})
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, job.Phase)

	_, err = s.UpdateJobStatus(context.Background(), "resumed", "weird", nil)
	assert.Error(t, err)
}

func TestSaveAssetReplacesByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveAsset(ctx, Asset{Name: "Generated_Blue_Shirt", TaskUUID: "t1", Path: "/a/one", Files: []string{"base.glb"}})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.SaveAsset(ctx, Asset{Name: "Generated_Blue_Shirt", TaskUUID: "t2", Path: "/a/two", Files: []string{"mesh.glb"}})
	require.NoError(t, err)
	_, err = s.SaveAsset(ctx, Asset{Name: "Armchair", TaskUUID: "t3", Path: "/a/three"})
	require.NoError(t, err)

	list, err := s.Assets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Armchair", list[0].Name)
	assert.Empty(t, list[0].Files)
	assert.Equal(t, "t2", list[1].TaskUUID)
	assert.Equal(t, []string{"mesh.glb"}, list[1].Files)

	got, err := s.Asset(ctx, "Generated_Blue_Shirt")
	require.NoError(t, err)
	assert.Equal(t, "/a/two", got.Path)

	_, err = s.Asset(ctx, "nope")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = s.SaveAsset(ctx, Asset{Name: "  "})
	assert.Error(t, err)
}

func TestReopenKeepsDataAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 8, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	require.NoError(t, s.RecordJob(context.Background(), Job{SubscriptionKey: "k", TaskUUID: "t"}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	job, err := s.Job(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, job.CreatedAt.Equal(fixed))
}
