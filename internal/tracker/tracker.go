// Package tracker orchestrates the time-accounting engine: it owns the
// single current session, reacts to tab events, idle signals, settings
// changes, and the heartbeat, and drives the ledger, idle machine, and
// day rollover on every transition. All mutation happens under one mutex;
// each handler is a read-snapshot, compute, write-back unit of work.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/internal/blocklist"
	"github.com/timewall/timewall/internal/clock"
	"github.com/timewall/timewall/internal/idle"
	"github.com/timewall/timewall/internal/insights"
	"github.com/timewall/timewall/internal/ledger"
	"github.com/timewall/timewall/internal/rollover"
	"github.com/timewall/timewall/internal/store"
	"github.com/timewall/timewall/pkg/models"
)

// Tracker is the session/quota/idle engine.
type Tracker struct {
	store    *store.Store
	clk      clock.Clock
	enforcer ledger.Enforcer

	debounce  time.Duration
	heartbeat time.Duration

	// mu serializes units of work against the store.
	mu sync.Mutex

	// pendMu guards the debounce state.
	pendMu  sync.Mutex
	pending *models.TabEvent
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a tracker. The enforcer receives outward tab commands;
// pass ledger.NopEnforcer{} when none is wired.
func New(st *store.Store, clk clock.Clock, enforcer ledger.Enforcer, debounce, heartbeat time.Duration) *Tracker {
	if enforcer == nil {
		enforcer = ledger.NopEnforcer{}
	}
	t := &Tracker{
		store:     st,
		clk:       clk,
		enforcer:  enforcer,
		debounce:  debounce,
		heartbeat: heartbeat,
	}
	st.OnChange(t.onStoreChange)
	return t
}

// Start runs the heartbeat loop until ctx is cancelled. The first tick
// fires immediately so startup performs the day check without waiting a
// full interval.
func (t *Tracker) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.Heartbeat()

	go func() {
		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.Heartbeat()
			}
		}
	}()
}

// Stop cancels the heartbeat loop and flushes any pending tab event.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.flushPending()
}

// OnTabEvent queues a tab event behind a short debounce window so a tab
// switch immediately followed by its URL-change callback coalesces into a
// single commit+open pair.
func (t *Tracker) OnTabEvent(ev models.TabEvent) {
	t.pendMu.Lock()
	defer t.pendMu.Unlock()

	t.pending = &ev
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, t.flushPending)
}

func (t *Tracker) flushPending() {
	t.pendMu.Lock()
	ev := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pendMu.Unlock()

	if ev != nil {
		t.ProcessTabEvent(*ev)
	}
}

// ProcessTabEvent handles one logical tab transition immediately,
// bypassing the debounce. Exposed for the debounce timer and tests.
func (t *Tracker) ProcessTabEvent(ev models.TabEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log.Debug().Str("reason", string(ev.Reason)).Str("url", ev.URL).Msg("Tab event")

	ctx := context.Background()
	settings, st, ok := t.loadSnapshot(ctx)
	if !ok {
		return
	}
	now := t.clk.Now()

	// Master switch off or timer never configured: allow all traffic,
	// touch nothing.
	if !settings.GlobalSwitch || settings.TimerEnabled == nil {
		log.Debug().Msg("Tracking disabled, allowing all traffic")
		return
	}

	matcher := blocklist.NewMatcher(settings.Websites)

	// A confirmed-AFK user is not behind tab events; background refreshes
	// and SPA timers keep firing them. Remember the tab so a verified
	// return resumes the right place, but charge nothing. Only the idle
	// machine's verification path leaves AFK.
	if !idle.Accruing(st.Idle) {
		if ev.Reason != models.ReasonTabClosed && blocklist.Trackable(ev.URL) {
			st.LastTabID = ev.TabID
			st.LastURL = ev.URL
		}
		t.saveState(ctx, st)
		return
	}

	if st.Session != nil {
		// A closed background tab is not the one being timed.
		if ev.Reason == models.ReasonTabClosed && ev.TabID != st.LastTabID {
			return
		}
		t.commit(st, &settings, matcher, now, st.LastTabID)
		st.Session = nil
	} else if ev.Reason == models.ReasonTabClosed {
		return
	}

	st.ShowEnforcement = false
	if ev.Reason != models.ReasonTabClosed && blocklist.Trackable(ev.URL) {
		if domain := blocklist.Normalize(ev.URL); domain != "" {
			st.Session = &models.Session{Domain: domain, StartedAt: now}
			st.LastTabID = ev.TabID
			st.LastURL = ev.URL
			st.ShowEnforcement = ledger.ShouldShow(st, &settings, matcher, domain)
			log.Debug().Str("domain", domain).Bool("show", st.ShowEnforcement).Msg("Session opened")
		}
	}

	t.saveState(ctx, st)
}

// Heartbeat is the periodic tick: it advances idle transitions, keeps the
// open session's accounting current, checks the day boundary, and
// refreshes the cached insights. Tolerant of delayed or skipped ticks.
func (t *Tracker) Heartbeat() {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := context.Background()
	settings, st, ok := t.loadSnapshot(ctx)
	if !ok {
		return
	}
	now := t.clk.Now()
	matcher := blocklist.NewMatcher(settings.Websites)

	if settings.GlobalSwitch && settings.TimerEnabled != nil {
		idleCfg := idle.ConfigFromSettings(&settings)

		var eff idle.Effect
		st.Idle, eff = idle.OnHeartbeat(st.Idle, idleCfg, now)
		switch eff {
		case idle.EffectCommitClear:
			if st.Session != nil {
				t.commit(st, &settings, matcher, now, st.LastTabID)
				st.Session = nil
			}
		case idle.EffectResume:
			t.reopenLastTab(st, &settings, matcher, now)
		}

		// Recommit-and-restart keeps accumulators fresh between tab
		// events; only confirmed AFK suspends it.
		if st.Session != nil && idle.Accruing(st.Idle) {
			res := t.commit(st, &settings, matcher, now, st.LastTabID)
			st.Session.StartedAt = now
			if res.Blocked {
				st.ShowEnforcement = st.ShowEnforcement ||
					ledger.ShouldShow(st, &settings, matcher, st.Session.Domain)
			}
		}
	}

	rollover.CheckDay(st, &settings, now)

	if !t.saveState(ctx, st) {
		return
	}

	ins := insights.Compute(st, now)
	if err := t.store.SaveInsights(ctx, ins); err != nil {
		log.Warn().Err(err).Msg("Failed to cache insights, will retry next tick")
		return
	}
	log.Debug().
		Int("focusScore", ins.FocusScore).
		Str("todayBlocked", insights.FormatDuration(ins.TodayBlocked)).
		Msg("Heartbeat complete")
}

// OnIdleSignal forwards an OS idle/active report to the idle machine.
func (t *Tracker) OnIdleSignal(signal models.IdleSignal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx := context.Background()
	settings, st, ok := t.loadSnapshot(ctx)
	if !ok {
		return
	}
	if !settings.GlobalSwitch || settings.TimerEnabled == nil {
		return
	}
	now := t.clk.Now()
	matcher := blocklist.NewMatcher(settings.Websites)

	var eff idle.Effect
	st.Idle, eff = idle.OnSignal(st.Idle, idle.ConfigFromSettings(&settings), signal, now)
	if eff == idle.EffectCommitRestart && st.Session != nil {
		// Commit before idle time accrues, then restart the clock so the
		// heartbeat still has something to commit until AFK confirms.
		t.commit(st, &settings, matcher, now, st.LastTabID)
		st.Session.StartedAt = now
	}

	t.saveState(ctx, st)
}

// onStoreChange reacts to settings-partition writes, mirroring the
// storage change listener the browser runtime provides. Local-partition
// notifications are the tracker's own writes and are ignored.
func (t *Tracker) onStoreChange(ev store.ChangeEvent) {
	if ev.Partition != store.PartitionSettings {
		return
	}
	t.handleSettingsChanged(ev.Keys)
}

func (t *Tracker) handleSettingsChanged(keys []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	log.Info().Strs("keys", keys).Msg("Settings changed")

	ctx := context.Background()
	settings, st, ok := t.loadSnapshot(ctx)
	if !ok {
		return
	}
	now := t.clk.Now()
	matcher := blocklist.NewMatcher(settings.Websites)

	changed := func(key string) bool {
		for _, k := range keys {
			if k == key {
				return true
			}
		}
		return false
	}

	// Disabling the master switch or the timer stops the clock
	// synchronously: commit, clear, hide the overlay. No orphaned
	// sessions.
	globalOff := changed("global_switch") && !settings.GlobalSwitch
	timerOff := changed("timer_enabled") && !settings.TimerActive()
	if globalOff || timerOff {
		log.Info().Msg("Tracking disabled, stopping session")
		if st.Session != nil {
			t.commit(st, &settings, matcher, now, st.LastTabID)
			st.Session = nil
		}
		st.ShowEnforcement = false
	}

	// Policy change or re-enable reseeds the countdown.
	if changed("configured_seconds") || (changed("timer_enabled") && settings.TimerActive()) {
		st.SetRemaining(float64(settings.ConfiguredSeconds))
		st.ShowEnforcement = false
	}

	// Unblocked domains leave today's blocked map lazily; archived
	// history days are never rewritten.
	if changed("websites") {
		for domain := range st.BlockedTime {
			if !matcher.Matches(domain) {
				delete(st.BlockedTime, domain)
			}
		}
	}

	// Re-evaluate the current tab under the new settings.
	if settings.GlobalSwitch && settings.TimerEnabled != nil && st.LastURL != "" {
		if st.Session == nil {
			t.reopenLastTab(st, &settings, matcher, now)
		} else {
			st.ShowEnforcement = ledger.ShouldShow(st, &settings, matcher, st.Session.Domain)
		}
	}

	t.saveState(ctx, st)
}

// commit runs the ledger commit for the open session and dispatches
// enforcement when the quota crosses zero on this update.
func (t *Tracker) commit(st *models.EngineState, settings *models.Settings, matcher *blocklist.Matcher, now time.Time, tabID int64) ledger.Result {
	sess := st.Session
	res := ledger.Commit(st, settings, matcher, sess, now)
	if res.Crossed {
		log.Info().
			Str("domain", sess.Domain).
			Str("action", string(settings.Action)).
			Msg("Time limit reached")
		ledger.Enforce(st, settings, matcher, t.enforcer, tabID)
	}
	return res
}

// reopenLastTab opens a session for the most recent trackable tab, used
// after a confirmed return from idle and after settings re-evaluation.
func (t *Tracker) reopenLastTab(st *models.EngineState, settings *models.Settings, matcher *blocklist.Matcher, now time.Time) {
	if !blocklist.Trackable(st.LastURL) {
		return
	}
	domain := blocklist.Normalize(st.LastURL)
	if domain == "" {
		return
	}
	st.Session = &models.Session{Domain: domain, StartedAt: now}
	st.ShowEnforcement = ledger.ShouldShow(st, settings, matcher, domain)
}

// loadSnapshot reads the settings and state; transient failures abandon
// the unit of work for this tick and retry on the next trigger.
func (t *Tracker) loadSnapshot(ctx context.Context) (models.Settings, *models.EngineState, bool) {
	settings, err := t.store.GetSettings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read settings, abandoning tick")
		return models.Settings{}, nil, false
	}
	st, err := t.store.LoadState(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read state, abandoning tick")
		return models.Settings{}, nil, false
	}
	return settings, st, true
}

func (t *Tracker) saveState(ctx context.Context, st *models.EngineState) bool {
	if err := t.store.SaveState(ctx, st); err != nil {
		log.Warn().Err(err).Msg("Failed to persist state, abandoning tick")
		return false
	}
	return true
}
