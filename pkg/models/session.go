// Package models contains domain models for timewall.
package models

import "time"

// EventReason identifies what triggered a tab event.
type EventReason string

const (
	ReasonTabSwitch      EventReason = "tab-switch"
	ReasonURLChange      EventReason = "url-change"
	ReasonTabClosed      EventReason = "tab-closed"
	ReasonSettingsToggle EventReason = "settings-toggle"
	ReasonStartup        EventReason = "startup"
)

// TabEvent is a browser tab notification delivered by the integration.
type TabEvent struct {
	TabID  int64       `json:"tab_id"`
	URL    string      `json:"url"`
	Reason EventReason `json:"reason"`
}

// Session is the open (domain, start-time) pair currently being timed.
// At most one exists at a time; the tracker owns it exclusively.
type Session struct {
	Domain    string    `json:"domain"`
	StartedAt time.Time `json:"started_at"`
}

// Elapsed returns the seconds accumulated by the session as of now.
func (s *Session) Elapsed(now time.Time) float64 {
	return now.Sub(s.StartedAt).Seconds()
}

// IdleSignal is an OS-level idle state report.
type IdleSignal string

const (
	SignalIdle   IdleSignal = "idle"
	SignalActive IdleSignal = "active"
)
