package scheduler

import "time"

// Tier is an overdue-severity bucket with its own dispatch policy
type Tier int

const (
	TierOnTime Tier = iota
	TierRecentlyOverdue
	TierModeratelyOverdue
	TierSeverelyOverdue
	TierCriticallyOverdue
)

// tierUnclassified tags posts settled before classification
const tierUnclassified Tier = -1

// Tier thresholds in whole minutes overdue
const (
	recentlyOverdueAfter   = 5
	moderatelyOverdueFrom  = 60
	severelyOverdueFrom    = 24 * 60
	criticallyOverdueAfter = 7 * 24 * 60
)

var tierNames = map[Tier]string{
	tierUnclassified:      "unclassified",
	TierOnTime:            "on_time",
	TierRecentlyOverdue:   "recently_overdue",
	TierModeratelyOverdue: "moderately_overdue",
	TierSeverelyOverdue:   "severely_overdue",
	TierCriticallyOverdue: "critically_overdue",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Classify buckets a post by how late it is at now.
// Posts fetched slightly early because of clock skew are on time.
func Classify(now, scheduledTime time.Time) Tier {
	minutes := overdueMinutes(now, scheduledTime)

	switch {
	case minutes > criticallyOverdueAfter:
		return TierCriticallyOverdue
	case minutes >= severelyOverdueFrom:
		return TierSeverelyOverdue
	case minutes >= moderatelyOverdueFrom:
		return TierModeratelyOverdue
	case minutes > recentlyOverdueAfter:
		return TierRecentlyOverdue
	default:
		return TierOnTime
	}
}

// overdueMinutes rounds down; negative durations clamp to zero
func overdueMinutes(now, scheduledTime time.Time) int64 {
	overdue := now.Sub(scheduledTime)
	if overdue <= 0 {
		return 0
	}
	return int64(overdue / time.Minute)
}
