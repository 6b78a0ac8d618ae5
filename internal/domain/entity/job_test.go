package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduledJob_Advance(t *testing.T) {
	prior := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		freq Frequency
		want *time.Time
	}{
		{FrequencyDaily, ptrTime(prior.Add(24 * time.Hour))},
		{FrequencyCustom, ptrTime(prior.Add(24 * time.Hour))},
		{FrequencyMonthly, ptrTime(prior.AddDate(0, 1, 0))},
		{FrequencyYearly, ptrTime(prior.AddDate(1, 0, 0))},
		{FrequencyNone, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq), func(t *testing.T) {
			next := prior
			job := &ScheduledJob{Frequency: tt.freq, NextRunAt: &next}

			job.Advance()

			if tt.want == nil {
				assert.Nil(t, job.NextRunAt)
				return
			}
			require.NotNil(t, job.NextRunAt)
			assert.True(t, tt.want.Equal(*job.NextRunAt), "got %v want %v", job.NextRunAt, tt.want)
		})
	}
}

func TestScheduledJob_Due(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&ScheduledJob{Enabled: true, NextRunAt: &past}).Due(now))
	assert.True(t, (&ScheduledJob{Enabled: true, NextRunAt: &now}).Due(now))
	assert.False(t, (&ScheduledJob{Enabled: true, NextRunAt: &future}).Due(now))
	assert.False(t, (&ScheduledJob{Enabled: false, NextRunAt: &past}).Due(now))
	assert.False(t, (&ScheduledJob{Enabled: true}).Due(now))
}

func TestScheduledJob_Target(t *testing.T) {
	assert.Equal(t, Target{DeviceIDs: []int64{1, 2}}, (&ScheduledJob{Scope: ScopeSingle, DeviceIDs: []int64{1, 2}}).Target())
	assert.Equal(t, Target{Group: "vip"}, (&ScheduledJob{Scope: ScopeGroup, Groups: []string{"vip", "beta"}}).Target())
	assert.Equal(t, Target{All: true}, (&ScheduledJob{Scope: ScopeAll}).Target())
}

func ptrTime(t time.Time) *time.Time { return &t }
