package backend

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/remote"
)

func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	team := "team-" + uuid.NewString()

	_, err := repo.GetRunner(ctx, team, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	runner := remote.RunnerRecord{
		ID: uuid.NewString(), Number: 2, Name: "Ben", PaceSeconds: 540, Van: 2,
		UpdatedAt: "2025-09-12T06:00:00.000Z",
	}
	require.NoError(t, repo.SaveRunner(ctx, team, runner))
	other := runner
	other.ID, other.Number, other.Name = uuid.NewString(), 1, "Ana"
	require.NoError(t, repo.SaveRunner(ctx, team, other))

	got, err := repo.FindRunnerByNumber(ctx, team, 2)
	require.NoError(t, err)
	assert.Equal(t, runner, got)

	runners, err := repo.ListRunners(ctx, team)
	require.NoError(t, err)
	require.Len(t, runners, 2)
	assert.Equal(t, 1, runners[0].Number)

	start := "2025-09-12T06:00:00.000Z"
	pace := 480.0
	leg := remote.LegRecord{
		ID: uuid.NewString(), Number: 1, RunnerID: runner.ID, Distance: 5.2,
		ActualStart: &start, PaceOverrideSeconds: &pace, UpdatedAt: "2025-09-12T06:01:00.000Z",
	}
	require.NoError(t, repo.SaveLeg(ctx, team, leg))

	finish := "2025-09-12T06:45:00.000Z"
	leg.ActualFinish = &finish
	require.NoError(t, repo.SaveLeg(ctx, team, leg))

	stored, err := repo.GetLeg(ctx, team, leg.ID)
	require.NoError(t, err)
	assert.Equal(t, leg, stored)

	byNumber, err := repo.FindLegByNumber(ctx, team, 1)
	require.NoError(t, err)
	assert.Equal(t, leg.ID, byNumber.ID)

	legs, err := repo.ListLegs(ctx, team)
	require.NoError(t, err)
	assert.Len(t, legs, 1)

	none, err := repo.ListLegs(ctx, "other-team")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, NewMemoryRepository())
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("RELAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	testRepository(t, repo)
}
