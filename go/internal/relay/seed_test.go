package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/relay/go/internal/models"
)

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(`
anchor: 2025-09-12T06:00:00Z
runners:
  - {id: 1, name: Ana, pace: 10m, van: 1}
  - {id: 2, name: Ben, pace: 9m, van: 2}
legs:
  - {id: 1, runner_id: 1, distance: 5.2}
  - {id: 2, runner_id: 2, distance: 4.1, pace_override: 8m30s}
`))
	require.NoError(t, err)
	assert.True(t, raceStart.Equal(seed.Anchor))
	require.Len(t, seed.Runners, 2)
	assert.Equal(t, 10*time.Minute, seed.Runners[0].Pace)
	assert.Equal(t, models.VanTwo, seed.Runners[1].Van)
	require.Len(t, seed.Legs, 2)
	require.NotNil(t, seed.Legs[1].PaceOverride)
	assert.Equal(t, 8*time.Minute+30*time.Second, *seed.Legs[1].PaceOverride)
	assert.Nil(t, seed.Legs[0].PaceOverride)
}

func TestParseSeedRejectsInvalidRunner(t *testing.T) {
	_, err := ParseSeed([]byte(`
runners:
  - {id: 1, name: Ana, pace: 10m, van: 3}
`))
	assert.ErrorIs(t, err, models.ErrInvalidRunner)
}
