package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/timewall/timewall/pkg/models"
)

func defaultSettings() models.Settings { return models.DefaultSettings() }

func settingsToRow(s models.Settings) SettingsRow {
	row := SettingsRow{
		GlobalSwitch:         s.GlobalSwitch,
		Paused:               s.Paused,
		ConfiguredSeconds:    s.ConfiguredSeconds,
		Action:               string(s.Action),
		RedirectURL:          s.RedirectURL,
		InstantPurge:         s.InstantPurge,
		Websites:             s.Websites,
		IdleThresholdSeconds: s.IdleThresholdSeconds,
		AFKThresholdSeconds:  s.AFKThresholdSeconds,
		VerifyMinSeconds:     s.VerifyMinSeconds,
		VerifyMaxSeconds:     s.VerifyMaxSeconds,
		UpdatedAtEpoch:       time.Now().UnixMilli(),
	}
	if s.TimerEnabled != nil {
		row.TimerEnabled = sql.NullBool{Bool: *s.TimerEnabled, Valid: true}
	}
	return row
}

func rowToSettings(row SettingsRow) models.Settings {
	s := models.Settings{
		GlobalSwitch:         row.GlobalSwitch,
		Paused:               row.Paused,
		ConfiguredSeconds:    row.ConfiguredSeconds,
		Action:               models.EnforcementAction(row.Action),
		RedirectURL:          row.RedirectURL,
		InstantPurge:         row.InstantPurge,
		Websites:             row.Websites,
		IdleThresholdSeconds: row.IdleThresholdSeconds,
		AFKThresholdSeconds:  row.AFKThresholdSeconds,
		VerifyMinSeconds:     row.VerifyMinSeconds,
		VerifyMaxSeconds:     row.VerifyMaxSeconds,
	}
	if row.TimerEnabled.Valid {
		v := row.TimerEnabled.Bool
		s.TimerEnabled = &v
	}
	return s
}

// GetSettings reads the user policy snapshot.
func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	var row SettingsRow
	if err := s.db.WithContext(ctx).First(&row, singletonID).Error; err != nil {
		return models.Settings{}, err
	}
	return rowToSettings(row), nil
}

// SaveSettings persists the policy and notifies listeners with the set of
// changed keys, mirroring browser storage onChanged semantics.
func (s *Store) SaveSettings(ctx context.Context, settings models.Settings) error {
	old, err := s.GetSettings(ctx)
	if err != nil {
		return err
	}

	row := settingsToRow(settings)
	row.ID = singletonID
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}

	keys := settingsDiff(old, settings)
	if len(keys) > 0 {
		s.notify(ChangeEvent{Partition: PartitionSettings, Keys: keys})
	}
	return nil
}

// settingsDiff returns the names of changed settings keys.
func settingsDiff(old, updated models.Settings) []string {
	var keys []string
	if old.GlobalSwitch != updated.GlobalSwitch {
		keys = append(keys, "global_switch")
	}
	if !boolPtrEqual(old.TimerEnabled, updated.TimerEnabled) {
		keys = append(keys, "timer_enabled")
	}
	if old.Paused != updated.Paused {
		keys = append(keys, "paused")
	}
	if old.ConfiguredSeconds != updated.ConfiguredSeconds {
		keys = append(keys, "configured_seconds")
	}
	if old.Action != updated.Action {
		keys = append(keys, "action")
	}
	if old.RedirectURL != updated.RedirectURL {
		keys = append(keys, "redirect_url")
	}
	if old.InstantPurge != updated.InstantPurge {
		keys = append(keys, "instant_purge")
	}
	if !websitesEqual(old.Websites, updated.Websites) {
		keys = append(keys, "websites")
	}
	if old.IdleThresholdSeconds != updated.IdleThresholdSeconds ||
		old.AFKThresholdSeconds != updated.AFKThresholdSeconds ||
		old.VerifyMinSeconds != updated.VerifyMinSeconds ||
		old.VerifyMaxSeconds != updated.VerifyMaxSeconds {
		keys = append(keys, "idle_policy")
	}
	return keys
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func websitesEqual(a, b models.WebsiteList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
