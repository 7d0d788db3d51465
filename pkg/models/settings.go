package models

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

// EnforcementAction is the user-configured response to quota exhaustion.
type EnforcementAction string

const (
	ActionBlock    EnforcementAction = "block"
	ActionWarn     EnforcementAction = "warn"
	ActionRedirect EnforcementAction = "redirect"
	ActionDisabled EnforcementAction = "disabled"
)

// Valid reports whether a is a known enforcement action.
func (a EnforcementAction) Valid() bool {
	switch a {
	case ActionBlock, ActionWarn, ActionRedirect, ActionDisabled:
		return true
	}
	return false
}

// Website is a user-managed block-list entry.
type Website struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// WebsiteList is a JSON-backed SQL column of block-list entries.
type WebsiteList []Website

// Scan implements sql.Scanner for WebsiteList.
func (w *WebsiteList) Scan(value interface{}) error {
	if value == nil {
		*w = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for WebsiteList: %T", value)
	}
	if len(data) == 0 {
		*w = nil
		return nil
	}
	return json.Unmarshal(data, w)
}

// Value implements driver.Valuer for WebsiteList.
func (w WebsiteList) Value() (driver.Value, error) {
	if w == nil {
		return "[]", nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Settings is the user policy record (the "settings" partition).
// TimerEnabled is a tri-state: nil means the per-domain timer was never
// configured, which the tracker treats as "allow all traffic".
type Settings struct {
	GlobalSwitch      bool              `json:"global_switch"`
	TimerEnabled      *bool             `json:"timer_enabled"`
	Paused            bool              `json:"paused"`
	ConfiguredSeconds int               `json:"configured_seconds"`
	Action            EnforcementAction `json:"action"`
	RedirectURL       string            `json:"redirect_url"`
	InstantPurge      bool              `json:"instant_purge"`
	Websites          WebsiteList       `json:"websites"`

	// Idle/AFK policy, read by the idle machine and exposed to the
	// browser integration for its OS idle detection threshold.
	IdleThresholdSeconds int `json:"idle_threshold_seconds"`
	AFKThresholdSeconds  int `json:"afk_threshold_seconds"`
	VerifyMinSeconds     int `json:"verify_min_seconds"`
	VerifyMaxSeconds     int `json:"verify_max_seconds"`
}

// DefaultSettings returns the settings used before the user configures
// anything. TimerEnabled stays nil on purpose.
func DefaultSettings() Settings {
	return Settings{
		GlobalSwitch:         true,
		ConfiguredSeconds:    1800,
		Action:               ActionBlock,
		IdleThresholdSeconds: 60,
		AFKThresholdSeconds:  300,
		VerifyMinSeconds:     2,
		VerifyMaxSeconds:     28,
	}
}

// TimerActive reports whether the quota countdown is switched on.
func (s *Settings) TimerActive() bool {
	return s.TimerEnabled != nil && *s.TimerEnabled
}
