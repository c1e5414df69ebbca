// Package urgency computes the dashboard sort key for a task from its due
// date and priority.
package urgency

import (
	"math"
	"time"

	"auratask/internal/model"
)

// Weight returns the multiplier for p. Unknown priorities weigh as MEDIUM.
func Weight(p model.Priority) float64 {
	switch p {
	case model.PriorityLow:
		return 1.0
	case model.PriorityMedium:
		return 1.5
	case model.PriorityHigh:
		return 2.0
	case model.PriorityUrgent:
		return 2.5
	default:
		return 1.5
	}
}

// TimeFactor maps hours until due (negative when overdue) to [0, 200].
func TimeFactor(h float64) float64 {
	switch {
	case h < 0:
		return math.Min(100+math.Abs(h)*2, 200)
	case h <= 1:
		return 80 + 20*(1-h)
	case h <= 24:
		return 40 + 40*(1-h/24)
	case h <= 168:
		return 10 + 30*(1-h/168)
	default:
		return math.Max(0, 10-(h/24/30)*10)
	}
}

// Score is TimeFactor × Weight rounded to two decimals. Both instants are
// compared in UTC.
func Score(due time.Time, p model.Priority, now time.Time) float64 {
	h := due.UTC().Sub(now.UTC()).Hours()
	return round2(TimeFactor(h) * Weight(p))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Level is a display label derived from a score.
type Level string

const (
	Critical Level = "CRITICAL"
	Overdue  Level = "OVERDUE"
	DueNow   Level = "DUE_NOW"
	DueSoon  Level = "DUE_SOON"
	Upcoming Level = "UPCOMING"
	Later    Level = "LATER"
)

// LevelOf buckets a score: 200 and up is Critical, then Overdue from 150,
// DueNow from 100, DueSoon from 60, Upcoming from 30 and Later below that.
func LevelOf(score float64) Level {
	switch {
	case score >= 200:
		return Critical
	case score >= 150:
		return Overdue
	case score >= 100:
		return DueNow
	case score >= 60:
		return DueSoon
	case score >= 30:
		return Upcoming
	default:
		return Later
	}
}
