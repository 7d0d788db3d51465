package models

// Insights is the derived daily/weekly statistics record. It is a pure
// function of DailyHistory plus today's live maps, recomputed on every
// heartbeat and cached for the dashboard; never a source of truth.
//
// The *FromYesterday fields are percentage improvements: positive means
// less time (or a higher score) today than yesterday.
type Insights struct {
	FocusScore int `json:"focus_score"`
	Streak     int `json:"streak"`

	TodayTotal   float64 `json:"today_total"`
	TodayBlocked float64 `json:"today_blocked"`

	WeeklyTotal   float64 `json:"weekly_total"`
	WeeklyBlocked float64 `json:"weekly_blocked"`

	DailyAverage        float64 `json:"daily_average"`
	DailyBlockedAverage float64 `json:"daily_blocked_average"`

	BlockedPercentage        float64 `json:"blocked_percentage"`
	WeeklyBlockedPercentage  float64 `json:"weekly_blocked_percentage"`
	AverageBlockedPercentage float64 `json:"average_blocked_percentage"`

	YesterdayTotal             float64 `json:"yesterday_total"`
	YesterdayBlocked           float64 `json:"yesterday_blocked"`
	YesterdayBlockedPercentage float64 `json:"yesterday_blocked_percentage"`
	YesterdayFocusScore        int     `json:"yesterday_focus_score"`

	TimeSpentFromYesterday   float64 `json:"time_spent_from_yesterday"`
	BlockedTimeFromYesterday float64 `json:"blocked_time_from_yesterday"`
	FocusScoreFromYesterday  int     `json:"focus_score_from_yesterday"`
	DiffFromAverage          float64 `json:"diff_from_average"`
	DiffFromAverageText      string  `json:"diff_from_average_text"`

	BestDay             string  `json:"best_day"`
	BestDayBlockedTime  float64 `json:"best_day_blocked_time"`
	WorstDay            string  `json:"worst_day"`
	WorstDayBlockedTime float64 `json:"worst_day_blocked_time"`

	LastUpdated int64 `json:"last_updated"`
}
