package entity

import "time"

// Frequency controls how a scheduled job's next run is computed.
type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
	FrequencyCustom  Frequency = "custom"
)

// JobScope selects which devices a scheduled job targets.
type JobScope string

const (
	ScopeSingle JobScope = "single"
	ScopeGroup  JobScope = "group"
	ScopeAll    JobScope = "all"
)

// ScheduledJob is a stored campaign fired by the schedule trigger.
type ScheduledJob struct {
	ID         int64
	TenantID   string
	TemplateID int64
	Title      string
	Scope      JobScope
	DeviceIDs  []int64
	Groups     []string
	Frequency  Frequency
	Channel    *ChannelType
	Enabled    bool
	NextRunAt  *time.Time
	UpdatedAt  time.Time
}

// Due reports whether the job should fire at now.
func (j *ScheduledJob) Due(now time.Time) bool {
	return j.Enabled && j.NextRunAt != nil && !j.NextRunAt.After(now)
}

// Advance moves NextRunAt forward from its prior value, not from the wall clock.
// FrequencyNone clears it so the job never fires again.
func (j *ScheduledJob) Advance() {
	if j.NextRunAt == nil {
		return
	}
	prev := *j.NextRunAt
	var next time.Time
	switch j.Frequency {
	case FrequencyDaily, FrequencyCustom:
		next = prev.AddDate(0, 0, 1)
	case FrequencyMonthly:
		next = prev.AddDate(0, 1, 0)
	case FrequencyYearly:
		next = prev.AddDate(1, 0, 0)
	default:
		j.NextRunAt = nil
		return
	}
	j.NextRunAt = &next
}

// Target converts the job scope into a dispatch target.
func (j *ScheduledJob) Target() Target {
	switch j.Scope {
	case ScopeSingle:
		return Target{DeviceIDs: j.DeviceIDs}
	case ScopeGroup:
		if len(j.Groups) > 0 {
			return Target{Group: j.Groups[0]}
		}
		return Target{}
	default:
		return Target{All: true}
	}
}
