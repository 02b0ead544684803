package model

import (
	"testing"
	"time"
)

func TestPeriodOf(t *testing.T) {
	cases := []struct {
		hour int
		want Period
	}{
		{5, PeriodMorning},
		{10, PeriodMorning},
		{11, PeriodAfternoon},
		{16, PeriodAfternoon},
		{17, PeriodEvening},
		{23, PeriodEvening},
		{0, PeriodInappropriate},
		{4, PeriodInappropriate},
	}
	for _, c := range cases {
		ts := time.Date(2025, 3, 1, c.hour, 30, 0, 0, time.Local)
		if got := PeriodOf(ts); got != c.want {
			t.Fatalf("hour %d: expected %s got %s", c.hour, c.want, got)
		}
	}
}
