package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// TimeMap accumulates seconds per normalized domain.
type TimeMap map[string]float64

// Scan implements sql.Scanner for TimeMap.
func (m *TimeMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for TimeMap: %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Value implements driver.Valuer for TimeMap.
func (m TimeMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Total returns the sum of all accumulated seconds.
func (m TimeMap) Total() float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

// Clone returns a deep copy, never nil.
func (m TimeMap) Clone() TimeMap {
	out := make(TimeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DayRecord is one archived day. HasData distinguishes "no data recorded"
// from "zero usage" - a day the device slept through is absent, not zero.
type DayRecord struct {
	HasData bool    `json:"has_data"`
	Global  TimeMap `json:"global,omitempty"`
	Blocked TimeMap `json:"blocked,omitempty"`
}

// DailyHistory is a seven-slot ring indexed by weekday (0 = Sunday),
// overwritten in place each week. Written only at day rollover.
type DailyHistory struct {
	Days [7]DayRecord `json:"days"`
}

// Scan implements sql.Scanner for DailyHistory.
func (h *DailyHistory) Scan(value interface{}) error {
	if value == nil {
		*h = DailyHistory{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for DailyHistory: %T", value)
	}
	if len(data) == 0 {
		*h = DailyHistory{}
		return nil
	}
	return json.Unmarshal(data, h)
}

// Value implements driver.Valuer for DailyHistory.
func (h DailyHistory) Value() (driver.Value, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// WeekdayName returns the name for a 0-6 ring index.
func WeekdayName(idx int) string {
	return time.Weekday(idx).String()
}

// IdlePhase is the idle state machine classification.
type IdlePhase string

const (
	IdleActive        IdlePhase = "active"
	IdleIdle          IdlePhase = "idle"
	IdlePendingReturn IdlePhase = "pending_return"
	IdleAfk           IdlePhase = "afk"
)

// IdleSnapshot is the persisted idle machine state.
type IdleSnapshot struct {
	Phase        IdlePhase `json:"phase"`
	IdleSince    time.Time `json:"idle_since,omitempty"`
	PendingSince time.Time `json:"pending_since,omitempty"`
}

// EngineState is the complete mutable time-accounting state (the "local"
// partition). The tracker reads a snapshot, mutates it, and writes it back
// as one unit of work.
type EngineState struct {
	Session *Session `json:"session,omitempty"`

	// Remaining is the live quota countdown. nil means never seeded;
	// the commit path self-heals by reseeding from policy.
	Remaining       *float64 `json:"remaining_seconds,omitempty"`
	ShowEnforcement bool     `json:"show_enforcement"`

	GlobalTime  TimeMap `json:"global_time"`
	BlockedTime TimeMap `json:"blocked_time"`

	// DayIndex is the stored wall-clock weekday (0-6), -1 when unset.
	DayIndex int          `json:"day_index"`
	History  DailyHistory `json:"history"`

	Idle IdleSnapshot `json:"idle"`

	// LastTabID/LastURL remember the most recent trackable tab so a
	// confirmed return from idle can resume tracking without an event.
	LastTabID int64  `json:"last_tab_id,omitempty"`
	LastURL   string `json:"last_url,omitempty"`
}

// NewEngineState returns the initial state for a fresh install.
func NewEngineState() *EngineState {
	return &EngineState{
		GlobalTime:  make(TimeMap),
		BlockedTime: make(TimeMap),
		DayIndex:    -1,
		Idle:        IdleSnapshot{Phase: IdleActive},
	}
}

// SetRemaining replaces the quota countdown value.
func (st *EngineState) SetRemaining(v float64) {
	st.Remaining = &v
}

// RemainingOrZero returns the countdown value, treating unset as zero.
func (st *EngineState) RemainingOrZero() float64 {
	if st.Remaining == nil {
		return 0
	}
	return *st.Remaining
}
