// Package idle classifies the user as active, idle, pending-return, or
// AFK from OS idle signals plus a heartbeat-driven verification window.
// OS signals flicker (a notification can wake the screen), so a reported
// return is only trusted once a heartbeat observes it neither immediately
// reverted nor exactly one stale interval old.
package idle

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/pkg/models"
)

// Effect tells the tracker what accounting action a transition requires.
type Effect int

const (
	// EffectNone requires no accounting change.
	EffectNone Effect = iota
	// EffectCommitRestart commits the open session and re-opens it with a
	// fresh start time (entering idle: stop silent accrual, keep ticking).
	EffectCommitRestart
	// EffectCommitClear commits the open session and clears it (full AFK:
	// stop accounting entirely).
	EffectCommitClear
	// EffectResume re-opens a session for the last known active tab
	// (confirmed genuine return).
	EffectResume
)

// Config holds the idle policy thresholds.
type Config struct {
	AFKThreshold time.Duration // idle duration before full AFK
	VerifyMin    time.Duration // returns at or under this are "went idle again"
	VerifyMax    time.Duration // returns at or over this are signal noise
}

// ConfigFromSettings builds thresholds from the user policy.
func ConfigFromSettings(s *models.Settings) Config {
	return Config{
		AFKThreshold: time.Duration(s.AFKThresholdSeconds) * time.Second,
		VerifyMin:    time.Duration(s.VerifyMinSeconds) * time.Second,
		VerifyMax:    time.Duration(s.VerifyMaxSeconds) * time.Second,
	}
}

// OnSignal applies an OS idle/active report to the snapshot, returning the
// updated snapshot and the required accounting effect.
func OnSignal(st models.IdleSnapshot, cfg Config, signal models.IdleSignal, now time.Time) (models.IdleSnapshot, Effect) {
	switch signal {
	case models.SignalIdle:
		switch st.Phase {
		case models.IdleActive:
			// Commit before idle time accrues against the user, then keep
			// a fresh session running so the heartbeat still has
			// something to commit until AFK is confirmed.
			st.Phase = models.IdleIdle
			st.IdleSince = now
			st.PendingSince = time.Time{}
			log.Debug().Time("since", now).Msg("User idle")
			return st, EffectCommitRestart
		case models.IdlePendingReturn:
			// Return attempt abandoned; resume idle tracking from the new
			// idle timestamp.
			st.Phase = models.IdleIdle
			st.IdleSince = now
			st.PendingSince = time.Time{}
			return st, EffectNone
		}
		return st, EffectNone

	case models.SignalActive:
		switch st.Phase {
		case models.IdleIdle, models.IdleAfk:
			// Don't trust it yet; the next heartbeat verifies.
			st.Phase = models.IdlePendingReturn
			st.PendingSince = now
			log.Debug().Time("since", now).Msg("Possible user return, verifying")
			return st, EffectNone
		}
		return st, EffectNone
	}
	return st, EffectNone
}

// OnHeartbeat advances time-based transitions: idle aging into AFK, and
// pending returns being confirmed or rejected.
func OnHeartbeat(st models.IdleSnapshot, cfg Config, now time.Time) (models.IdleSnapshot, Effect) {
	switch st.Phase {
	case models.IdleIdle:
		if !st.IdleSince.IsZero() && now.Sub(st.IdleSince) >= cfg.AFKThreshold {
			st.Phase = models.IdleAfk
			log.Info().Time("idleSince", st.IdleSince).Msg("User AFK, accounting stopped")
			return st, EffectCommitClear
		}
		return st, EffectNone

	case models.IdlePendingReturn:
		if st.PendingSince.IsZero() {
			st.Phase = models.IdleIdle
			return st, EffectNone
		}
		elapsed := now.Sub(st.PendingSince)
		if elapsed > cfg.VerifyMin && elapsed < cfg.VerifyMax {
			// Genuine return: clear every idle flag and resume tracking.
			st = models.IdleSnapshot{Phase: models.IdleActive}
			log.Info().Msg("User return confirmed, resuming")
			return st, EffectResume
		}
		// Either the user went idle again instantly or the active signal
		// was noise; fall back to idle with the original timestamp so AFK
		// aging continues from the real absence start.
		st.Phase = models.IdleIdle
		st.PendingSince = time.Time{}
		return st, EffectNone
	}
	return st, EffectNone
}

// Accruing reports whether time should currently be charged to the user.
// Only confirmed AFK stops accounting; plain idle keeps committing.
func Accruing(st models.IdleSnapshot) bool {
	return st.Phase != models.IdleAfk
}
