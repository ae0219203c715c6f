package recurring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duracron/duracron/internal/core"
)

func TestParseRejectsInvalidExpression(t *testing.T) {
	_, err := Parse("not a cron expression")
	assert.Error(t, err)
}

func TestNextFireAdvancesPastMidnight(t *testing.T) {
	s, err := Parse("0 0 * * *")
	require.NoError(t, err)

	before := time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)
	next := s.NextFire(before)

	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), next)
}

func TestDueIsFalseBeforeNextFire(t *testing.T) {
	job := core.CronJob{
		Cron:    "0 0 * * *",
		LastRun: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	due, err := Due(job, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDueIsTrueAfterNextFire(t *testing.T) {
	job := core.CronJob{
		Cron:    "0 0 * * *",
		LastRun: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}

	due, err := Due(job, time.Date(2026, 8, 2, 0, 0, 1, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due)
}

func TestDueNeverRunUsesEpochBaseline(t *testing.T) {
	job := core.CronJob{Cron: "0 0 * * *"}

	due, err := Due(job, time.Now())
	require.NoError(t, err)
	assert.True(t, due)
}
