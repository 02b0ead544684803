package model

import "time"

// Period is the intake window a medicine order belongs to.
type Period string

const (
	PeriodMorning       Period = "morning"
	PeriodAfternoon     Period = "afternoon"
	PeriodEvening       Period = "evening"
	PeriodInappropriate Period = "inappropriate"
)

// PeriodOf maps a wall-clock time to its intake window: morning 05-11,
// afternoon 11-17, evening 17-24, anything else is not an intake window.
func PeriodOf(t time.Time) Period {
	switch h := t.Hour(); {
	case h >= 5 && h < 11:
		return PeriodMorning
	case h >= 11 && h < 17:
		return PeriodAfternoon
	case h >= 17:
		return PeriodEvening
	default:
		return PeriodInappropriate
	}
}
