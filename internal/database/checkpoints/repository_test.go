package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timepulse/jirasync/internal/database"
	"github.com/timepulse/jirasync/internal/database/syncruns"
	"github.com/timepulse/jirasync/internal/entities"
)

func setupRepo(t *testing.T) (*Repository, *entities.SyncRun) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	run, err := syncruns.NewRepository(db.DB).Claim(entities.SyncTypeManual, []string{"PROJ", "OPS"}, nil)
	require.NoError(t, err)

	return NewRepository(db.DB), run
}

func TestOpenCreatesAndReactivates(t *testing.T) {
	repo, run := setupRepo(t)

	cp, err := repo.Open(run.ID, "PROJ", entities.CheckpointTypeProjectSync)
	require.NoError(t, err)
	assert.Equal(t, entities.CheckpointActive, cp.Status)
	assert.Equal(t, "PROJ", cp.ProjectKey)

	require.NoError(t, repo.Fail(cp.ID, "network down"))

	// Reopening the same (run, project) reuses and reactivates the row.
	reopened, err := repo.Open(run.ID, "PROJ", entities.CheckpointTypeProjectSync)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, reopened.ID)
	assert.Equal(t, entities.CheckpointActive, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)

	cps, err := repo.ForRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, cps, 1)
}

func TestUpdateDataMerges(t *testing.T) {
	repo, run := setupRepo(t)

	cp, err := repo.Open(run.ID, "PROJ", entities.CheckpointTypeProjectSync)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateData(cp.ID, entities.CheckpointData{
		"total_issues": 120,
		"batch_size":   25,
	}))
	require.NoError(t, repo.UpdateData(cp.ID, entities.CheckpointData{
		"issues_processed": 50,
	}))

	cps, err := repo.ForRun(run.ID)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.EqualValues(t, 120, cps[0].Data["total_issues"])
	assert.EqualValues(t, 50, cps[0].Data["issues_processed"])
}

func TestPlan(t *testing.T) {
	repo, run := setupRepo(t)

	t.Run("no checkpoints means full restart", func(t *testing.T) {
		plan, err := repo.Plan(run.ID)
		require.NoError(t, err)
		assert.False(t, plan.CanResume)
		assert.Equal(t, StrategyFullRestart, plan.Strategy)
	})

	proj, err := repo.Open(run.ID, "PROJ", entities.CheckpointTypeProjectSync)
	require.NoError(t, err)
	ops, err := repo.Open(run.ID, "OPS", entities.CheckpointTypeProjectSync)
	require.NoError(t, err)

	t.Run("nothing completed means full restart", func(t *testing.T) {
		require.NoError(t, repo.Fail(proj.ID, "boom"))
		plan, err := repo.Plan(run.ID)
		require.NoError(t, err)
		assert.False(t, plan.CanResume)
		assert.Equal(t, StrategyFullRestart, plan.Strategy)
		assert.ElementsMatch(t, []string{"PROJ", "OPS"}, plan.ProjectsToRetry)
	})

	t.Run("one completed means partial resume", func(t *testing.T) {
		require.NoError(t, repo.Complete(ops.ID))
		plan, err := repo.Plan(run.ID)
		require.NoError(t, err)
		assert.True(t, plan.CanResume)
		assert.Equal(t, StrategyPartialResume, plan.Strategy)
		assert.True(t, plan.Completed("OPS"))
		assert.False(t, plan.Completed("PROJ"))
		assert.Equal(t, []string{"PROJ"}, plan.ProjectsToRetry)
	})
}
