package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/houzhh15/EDR-POC/analyzer/internal/repository/models"
)

func TestProcessRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), zap.NewNop())

	first := newProcess("P1", 100, 4, 0)
	first.Image = ""
	first.CommandLine = "cmd.exe /c whoami"
	require.NoError(t, repo.Upsert(ctx, first))

	second := newProcess("P1", 999, 999, 5*time.Second)
	second.Host = "OTHER"
	second.Image = `C:\Temp\evil.exe`
	second.CommandLine = "ignored"
	require.NoError(t, repo.Upsert(ctx, second))

	got, err := repo.FindByKey(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "WS01", got.Host)
	assert.Equal(t, int64(100), *got.PID)
	assert.Equal(t, int64(4), *got.PPID)
	assert.Equal(t, `C:\Temp\evil.exe`, got.Image, "empty identity field is filled by a later write")
	assert.Equal(t, "cmd.exe /c whoami", got.CommandLine)
	assert.True(t, got.FirstSeen.Equal(baseTime))
	assert.True(t, got.LastSeen.Equal(baseTime.Add(5*time.Second)))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestProcessRepository_MarkEnded(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)

	require.NoError(t, repo.Upsert(ctx, newProcess("P1", 100, 4, 0)))

	ok, err := repo.MarkEnded(ctx, "P1", baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkEnded(ctx, "missing", baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.FindByKey(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, got.Ended)
	assert.True(t, got.LastSeen.Equal(baseTime.Add(time.Minute)))
}

func TestProcessRepository_FindByKey_NotFound(t *testing.T) {
	repo := NewProcessRepository(setupSQLiteDB(t), nil)

	got, err := repo.FindByKey(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestProcessRepository_FindParentCandidates(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)

	old := newProcess("OLD", 500, 1, 0)
	recent := newProcess("RECENT", 500, 1, 10*time.Second)
	future := newProcess("FUTURE", 500, 1, time.Hour)
	otherHost := newProcess("OTHERHOST", 500, 1, 20*time.Second)
	otherHost.Host = "WS02"
	noHost := newProcess("NOHOST", 500, 1, 5*time.Second)
	noHost.Host = ""
	otherPID := newProcess("OTHERPID", 501, 1, 15*time.Second)

	for _, p := range []*models.Process{old, recent, future, otherHost, noHost, otherPID} {
		require.NoError(t, repo.Upsert(ctx, p))
	}

	got, err := repo.FindParentCandidates(ctx, 500, "WS01", baseTime.Add(30*time.Second))
	require.NoError(t, err)

	keys := make([]string, 0, len(got))
	for _, p := range got {
		keys = append(keys, p.ProcessKey)
	}
	assert.Equal(t, []string{"RECENT", "NOHOST", "OLD"}, keys)

	got, err = repo.FindParentCandidates(ctx, 500, "", baseTime.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 4, "empty host disables the host filter")
}

func TestProcessRepository_SetParent(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)

	require.NoError(t, repo.Upsert(ctx, newProcess("PARENT", 100, 4, 0)))
	require.NoError(t, repo.Upsert(ctx, newProcess("CHILD", 200, 100, time.Second)))

	unresolved, err := repo.CountUnresolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unresolved)

	ok, err := repo.SetParent(ctx, "CHILD", "PARENT")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetParent(ctx, "CHILD", "OTHER")
	require.NoError(t, err)
	assert.False(t, ok, "parent is written at most once")

	got, err := repo.FindByKey(ctx, "CHILD")
	require.NoError(t, err)
	require.True(t, got.HasParent())
	assert.Equal(t, "PARENT", *got.ParentKey)

	pending, err := repo.FindUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "PARENT", pending[0].ProcessKey)
}

func TestProcessRepository_FindUnresolved_SkipsNullPPID(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)

	p := newProcess("ORPHAN", 100, 0, 0)
	p.PPID = nil
	require.NoError(t, repo.Upsert(ctx, p))

	pending, err := repo.FindUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessRepository_ApplyEnrichment(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)
	require.NoError(t, repo.Upsert(ctx, newProcess("P1", 100, 4, 0)))

	e := models.Enrichment{
		RiskPathTier: models.RiskTierHigh,
		CmdFlags:     models.FlagList{"-enc", "hidden"},
		Base64Sus:    true,
	}
	score, err := repo.ApplyEnrichment(ctx, "P1", e, 46)
	require.NoError(t, err)
	assert.Equal(t, int64(46), score)

	got, err := repo.FindByKey(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, models.RiskTierHigh, got.RiskPathTier)
	assert.Equal(t, models.FlagList{"-enc", "hidden"}, got.CmdFlags)
	assert.True(t, got.Base64Sus)
	assert.Equal(t, int64(46), got.Score)

	_, err = repo.ApplyEnrichment(ctx, "missing", e, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.ApplyEnrichment(ctx, "P1", e, -1)
	assert.ErrorIs(t, err, ErrNegativeScoreDelta)
}

func TestProcessRepository_AddScore(t *testing.T) {
	ctx := context.Background()
	repo := NewProcessRepository(setupSQLiteDB(t), nil)
	require.NoError(t, repo.Upsert(ctx, newProcess("P1", 100, 4, 0)))

	score, err := repo.AddScore(ctx, "P1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), score)

	score, err = repo.AddScore(ctx, "P1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), score)

	score, err = repo.AddScore(ctx, "P1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(17), score)

	_, err = repo.AddScore(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.AddScore(ctx, "P1", -5)
	assert.ErrorIs(t, err, ErrNegativeScoreDelta)
}

func TestProcessRepository_AddScore_Postgres(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewProcessRepository(db, zap.NewNop())

	mock.ExpectQuery(`UPDATE processes SET score = score \+ \$1 WHERE process_guid = \$2 RETURNING score`).
		WithArgs(int64(15), "P1").
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(int64(23)))

	score, err := repo.AddScore(context.Background(), "P1", 15)
	require.NoError(t, err)
	assert.Equal(t, int64(23), score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRepository_SetParent_Postgres(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewProcessRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE "processes" SET "parent_guid"=\$1 WHERE process_guid = \$2 AND parent_guid IS NULL`).
		WithArgs("PARENT", "CHILD").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetParent(context.Background(), "CHILD", "PARENT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRepository_Upsert_Postgres(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewProcessRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO "processes" .* ON CONFLICT \("process_guid"\) DO UPDATE SET .*COALESCE\(NULLIF\(processes.cmdline, ''\), excluded.cmdline\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), newProcess("P1", 100, 4, 0))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
