// Package insights derives the focus score, streak, and usage statistics
// from the weekly history ring plus today's live accumulators. Everything
// here is a pure function; the result is cached, never authoritative.
package insights

import (
	"math"
	"time"

	"github.com/timewall/timewall/pkg/models"
)

const streakThreshold = 79 // days scoring above this extend the streak

// Compute builds the full insights record from the engine state.
func Compute(st *models.EngineState, now time.Time) *models.Insights {
	today := st.DayIndex
	if today < 0 {
		today = int(now.Weekday())
	}

	ins := &models.Insights{
		TodayTotal:   st.GlobalTime.Total(),
		TodayBlocked: st.BlockedTime.Total(),
		LastUpdated:  now.UnixMilli(),
	}

	yesterday := (today + 6) % 7
	dayBefore := (today + 5) % 7

	yTotal, yBlocked, yHas := dayTotals(st, yesterday, today)
	_, dbBlocked, dbHas := dayTotals(st, dayBefore, today)

	ins.YesterdayTotal = yTotal
	ins.YesterdayBlocked = yBlocked

	ins.FocusScore = dayScore(ins.TodayTotal, ins.TodayBlocked, yBlocked, yHas)
	ins.YesterdayFocusScore = dayScore(yTotal, yBlocked, dbBlocked, dbHas)
	ins.FocusScoreFromYesterday = ins.FocusScore - ins.YesterdayFocusScore

	// Weekly aggregates over every slot that has data, today included.
	daysWithData := 0
	for i := 0; i < 7; i++ {
		total, blocked, has := dayTotals(st, i, today)
		if !has {
			continue
		}
		daysWithData++
		ins.WeeklyTotal += total
		ins.WeeklyBlocked += blocked
	}
	if daysWithData > 0 {
		ins.DailyAverage = ins.WeeklyTotal / float64(daysWithData)
		ins.DailyBlockedAverage = ins.WeeklyBlocked / float64(daysWithData)
	}

	ins.BlockedPercentage = percentage(ins.TodayBlocked, ins.TodayTotal)
	ins.WeeklyBlockedPercentage = percentage(ins.WeeklyBlocked, ins.WeeklyTotal)
	ins.AverageBlockedPercentage = percentage(ins.DailyBlockedAverage, ins.DailyAverage)
	ins.YesterdayBlockedPercentage = percentage(yBlocked, yTotal)

	// Positive deltas mean improvement: less time today than yesterday.
	if yTotal > 0 {
		ins.TimeSpentFromYesterday = (yTotal - ins.TodayTotal) / yTotal * 100
	}
	if yBlocked > 0 {
		ins.BlockedTimeFromYesterday = (yBlocked - ins.TodayBlocked) / yBlocked * 100
	}
	ins.DiffFromAverage = ins.TodayTotal - ins.DailyAverage
	ins.DiffFromAverageText = FormatSigned(ins.DiffFromAverage)

	ins.Streak = streak(st, today)
	bestWorst(st, today, ins)

	return ins
}

// dayTotals returns a slot's totals, reading live maps for today's slot.
func dayTotals(st *models.EngineState, idx, today int) (total, blocked float64, has bool) {
	if idx == today {
		return st.GlobalTime.Total(), st.BlockedTime.Total(), true
	}
	rec := st.History.Days[idx]
	if !rec.HasData {
		return 0, 0, false
	}
	return rec.Global.Total(), rec.Blocked.Total(), true
}

// dayScore computes the 0-100 focus score for one day. A day with no
// recorded time scores zero, not a perfect hundred.
func dayScore(total, blocked, prevBlocked float64, hasPrev bool) int {
	if total <= 0 {
		return 0
	}

	fraction := blocked / total
	if fraction > 1 {
		fraction = 1
	}
	score := 100 - 40*fraction

	// Up to -30 for doing worse than the prior day, up to +15 for doing
	// better, scaled by the percentage change in blocked time.
	if hasPrev && prevBlocked > 0 {
		change := (blocked - prevBlocked) / prevBlocked * 100
		if change > 0 {
			score -= math.Min(30, change*0.3)
		} else {
			score += math.Min(15, -change*0.15)
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

// streak counts consecutive qualifying days walking backward from today,
// stopping at the first day lacking data or scoring at or under the
// threshold. The ring caps it at seven.
func streak(st *models.EngineState, today int) int {
	count := 0
	for offset := 0; offset < 7; offset++ {
		idx := ((today-offset)%7 + 7) % 7
		total, blocked, has := dayTotals(st, idx, today)
		if !has {
			break
		}
		prevIdx := ((idx-1)%7 + 7) % 7
		_, prevBlocked, prevHas := dayTotals(st, prevIdx, today)
		if offset == 6 {
			// The slot "before" the oldest ring entry is today again.
			prevHas = false
			prevBlocked = 0
		}
		if dayScore(total, blocked, prevBlocked, prevHas) <= streakThreshold {
			break
		}
		count++
	}
	return count
}

// bestWorst fills the least/most blocked day among days with any blocked
// time recorded.
func bestWorst(st *models.EngineState, today int, ins *models.Insights) {
	best, worst := -1, -1
	var bestVal, worstVal float64

	for i := 0; i < 7; i++ {
		_, blocked, has := dayTotals(st, i, today)
		if !has || blocked <= 0 {
			continue
		}
		if best < 0 || blocked < bestVal {
			best, bestVal = i, blocked
		}
		if worst < 0 || blocked > worstVal {
			worst, worstVal = i, blocked
		}
	}

	if best >= 0 {
		ins.BestDay = models.WeekdayName(best)
		ins.BestDayBlockedTime = bestVal
	}
	if worst >= 0 {
		ins.WorstDay = models.WeekdayName(worst)
		ins.WorstDayBlockedTime = worstVal
	}
}

func percentage(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
