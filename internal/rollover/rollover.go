// Package rollover archives a finished day's accumulators into the
// weekly history ring and reseeds the quota at local-day boundaries.
package rollover

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/pkg/models"
)

// Result reports what a rollover check did.
type Result struct {
	RolledOver bool // a day boundary was crossed and archived
	GapDays    int  // skipped days written as explicit no-data markers
	Reseeded   bool // quota countdown was reseeded from policy
}

// CheckDay compares the stored weekday index against the wall clock and
// performs the rollover when they differ. Idempotent per day: a second
// call on the same day is a no-op. Mutates st in place.
func CheckDay(st *models.EngineState, settings *models.Settings, now time.Time) Result {
	today := int(now.Weekday())

	// First run: adopt today without archiving anything.
	if st.DayIndex < 0 {
		st.DayIndex = today
		return Result{}
	}
	if st.DayIndex == today {
		return Result{}
	}

	// Archive the stale day under its own weekday slot.
	st.History.Days[st.DayIndex] = models.DayRecord{
		HasData: true,
		Global:  st.GlobalTime.Clone(),
		Blocked: st.BlockedTime.Clone(),
	}

	// Every weekday strictly between the stale day and today was slept
	// through; mark it explicitly absent. Zero and absent must stay
	// distinguishable.
	gaps := 0
	for i := (st.DayIndex + 1) % 7; i != today; i = (i + 1) % 7 {
		st.History.Days[i] = models.DayRecord{}
		gaps++
	}

	st.GlobalTime = make(models.TimeMap)
	st.BlockedTime = make(models.TimeMap)
	st.DayIndex = today

	res := Result{RolledOver: true, GapDays: gaps}

	// A fresh day grants a fresh budget, but a countdown still running
	// across midnight keeps going until it hits zero.
	if settings.TimerActive() && (st.Remaining == nil || *st.Remaining <= 0) {
		st.SetRemaining(float64(settings.ConfiguredSeconds))
		st.ShowEnforcement = false
		res.Reseeded = true
	}

	log.Info().
		Str("day", models.WeekdayName(today)).
		Int("gapDays", gaps).
		Bool("reseeded", res.Reseeded).
		Msg("Day rollover")

	return res
}
