// Package ledger implements the commit protocol: converting an open
// session's elapsed time into the per-domain accumulators and the quota
// countdown, and dispatching the enforcement action exactly once when the
// countdown crosses zero.
package ledger

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/internal/blocklist"
	"github.com/timewall/timewall/pkg/models"
)

// Enforcer issues outward tab commands. Fire-and-forget: failures are the
// collaborator's problem and never block accounting.
type Enforcer interface {
	NavigateTab(tabID int64, url string)
	CloseTab(tabID int64)
}

// NopEnforcer discards all commands.
type NopEnforcer struct{}

func (NopEnforcer) NavigateTab(int64, string) {}
func (NopEnforcer) CloseTab(int64)            {}

// Result summarizes one commit.
type Result struct {
	Delta   float64 // seconds actually accumulated
	Blocked bool    // domain was on the block list
	Crossed bool    // quota crossed from >0 to <=0 on this commit
}

// Commit applies the session's elapsed time as of now against its domain,
// mutating st in place. The caller must clear or restart the session
// immediately after calling (commit-then-clear ordering prevents double
// counting).
func Commit(st *models.EngineState, settings *models.Settings, matcher *blocklist.Matcher, sess *models.Session, now time.Time) Result {
	domain := sess.Domain
	delta := sess.Elapsed(now)
	// Clock anomalies produce negative or non-finite deltas; discard them
	// rather than ever subtracting from the quota.
	if delta <= 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return Result{}
	}

	if st.GlobalTime == nil {
		st.GlobalTime = make(models.TimeMap)
	}
	st.GlobalTime[domain] += delta

	res := Result{Delta: delta}
	if !matcher.Matches(domain) {
		return res
	}
	res.Blocked = true

	if st.BlockedTime == nil {
		st.BlockedTime = make(models.TimeMap)
	}
	st.BlockedTime[domain] += delta

	if !settings.TimerActive() || settings.Paused {
		return res
	}

	// Self-heal: a lost countdown reseeds from policy instead of failing.
	if st.Remaining == nil {
		st.SetRemaining(float64(settings.ConfiguredSeconds))
		log.Warn().
			Int("configured", settings.ConfiguredSeconds).
			Msg("Quota countdown missing, reseeded from policy")
	}

	prev := *st.Remaining
	next := math.Max(0, prev-delta)
	st.SetRemaining(next)
	res.Crossed = prev > 0 && next <= 0

	log.Debug().
		Str("domain", domain).
		Float64("delta", delta).
		Float64("remaining", next).
		Msg("Committed blocked time")

	return res
}

// Enforce carries out the configured action after a zero-crossing. Called
// at most once per exhaustion event by construction: Commit reports
// Crossed only on the transition tick.
func Enforce(st *models.EngineState, settings *models.Settings, matcher *blocklist.Matcher, enforcer Enforcer, tabID int64) {
	switch settings.Action {
	case models.ActionBlock:
		st.ShowEnforcement = true
		if settings.InstantPurge {
			log.Info().Int64("tab", tabID).Msg("Time limit reached, closing tab")
			enforcer.CloseTab(tabID)
		}
	case models.ActionWarn:
		st.ShowEnforcement = true
	case models.ActionRedirect:
		// A redirect destination on the block list would loop; skip it.
		if settings.RedirectURL == "" || matcher.MatchesURL(settings.RedirectURL) {
			log.Warn().Str("url", settings.RedirectURL).Msg("Redirect destination unusable, skipping")
			return
		}
		log.Info().Int64("tab", tabID).Str("url", settings.RedirectURL).Msg("Time limit reached, redirecting")
		enforcer.NavigateTab(tabID, settings.RedirectURL)
	case models.ActionDisabled:
		// Time accrues silently; nothing user-visible.
	}
}

// ShouldShow computes the overlay flag for an open session on domain:
// visible when the domain is blocked and the countdown is not running
// positive, for actions that render an overlay.
func ShouldShow(st *models.EngineState, settings *models.Settings, matcher *blocklist.Matcher, domain string) bool {
	if !matcher.Matches(domain) {
		return false
	}
	if settings.Action != models.ActionBlock && settings.Action != models.ActionWarn {
		return false
	}
	// An unseeded countdown behaves as the full configured budget; it
	// gets seeded for real on the first blocked commit.
	rem := st.RemainingOrZero()
	if st.Remaining == nil {
		rem = float64(settings.ConfiguredSeconds)
	}
	return !(settings.TimerActive() && rem > 0)
}
