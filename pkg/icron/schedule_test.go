package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_Hourly(t *testing.T) {
	ref := time.Date(2025, 3, 10, 14, 25, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, 35*time.Minute, info.TimeUntilNext)
	assert.Equal(t, time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 25*time.Minute, info.TimeSinceLast)
}

func TestGetTriggerInfo_WithSeconds(t *testing.T) {
	ref := time.Date(2025, 3, 10, 14, 25, 0, 0, time.UTC)

	info, err := GetTriggerInfo("30 0 3 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 3, 0, 30, 0, time.UTC), info.Next)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("not a cron", time.Now())
	assert.Error(t, err)
}
