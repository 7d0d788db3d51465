package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/timewall/timewall/internal/clock"
	"github.com/timewall/timewall/internal/store"
	"github.com/timewall/timewall/pkg/models"
)

// recordingEnforcer captures outward tab commands.
type recordingEnforcer struct {
	mu        sync.Mutex
	navigated []string
	closed    []int64
}

func (r *recordingEnforcer) NavigateTab(tabID int64, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navigated = append(r.navigated, url)
}

func (r *recordingEnforcer) CloseTab(tabID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, tabID)
}

func (r *recordingEnforcer) navCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.navigated)
}

// TrackerSuite drives the engine with a fake clock against a real store.
type TrackerSuite struct {
	suite.Suite
	store    *store.Store
	clk      *clock.Fake
	enforcer *recordingEnforcer
	tracker  *Tracker
	ctx      context.Context
}

func (s *TrackerSuite) SetupTest() {
	dbPath := filepath.Join(s.T().TempDir(), "timewall.db")
	st, err := store.NewStore(store.Config{Path: dbPath, LogLevel: logger.Silent})
	s.Require().NoError(err)
	s.store = st
	s.ctx = context.Background()

	// Mondays keep the weekday arithmetic readable.
	s.clk = clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	s.enforcer = &recordingEnforcer{}

	// Seed a configured policy before the tracker registers its change
	// listener, so setup writes do not count as user edits.
	enabled := true
	settings, err := st.GetSettings(s.ctx)
	s.Require().NoError(err)
	settings.TimerEnabled = &enabled
	settings.ConfiguredSeconds = 600
	settings.Websites = models.WebsiteList{{ID: "w1", Domain: "facebook.com"}}
	s.Require().NoError(st.SaveSettings(s.ctx, settings))

	s.tracker = New(st, s.clk, s.enforcer, 50*time.Millisecond, 30*time.Second)
}

func (s *TrackerSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) state() *models.EngineState {
	st, err := s.store.LoadState(s.ctx)
	s.Require().NoError(err)
	return st
}

func (s *TrackerSuite) settings() models.Settings {
	settings, err := s.store.GetSettings(s.ctx)
	s.Require().NoError(err)
	return settings
}

func (s *TrackerSuite) updateSettings(mutate func(*models.Settings)) {
	settings := s.settings()
	mutate(&settings)
	s.Require().NoError(s.store.SaveSettings(s.ctx, settings))
}

func (s *TrackerSuite) TestTabEventOpensSession() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://www.facebook.com/feed", Reason: models.ReasonTabSwitch})

	st := s.state()
	s.Require().NotNil(st.Session)
	s.Equal("facebook.com", st.Session.Domain)
	s.Equal(s.clk.Now().UnixMilli(), st.Session.StartedAt.UnixMilli())
	s.Equal(int64(1), st.LastTabID)
	s.False(st.ShowEnforcement, "budget untouched, nothing to enforce")
}

func (s *TrackerSuite) TestTabSwitchCommitsThenOpens() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(30 * time.Second)
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 2, URL: "https://example.com", Reason: models.ReasonTabSwitch})

	st := s.state()
	s.Require().NotNil(st.Session)
	s.Equal("example.com", st.Session.Domain)
	s.InDelta(30, st.GlobalTime["facebook.com"], 0.001)
	s.InDelta(30, st.BlockedTime["facebook.com"], 0.001)
	s.Require().NotNil(st.Remaining)
	s.InDelta(570, *st.Remaining, 0.001)
}

func (s *TrackerSuite) TestUntrackableURLCommitsAndClears() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(10 * time.Second)
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 2, URL: "chrome://settings", Reason: models.ReasonTabSwitch})

	st := s.state()
	s.Nil(st.Session, "browser-internal pages never open a session")
	s.InDelta(10, st.GlobalTime["facebook.com"], 0.001)
}

func (s *TrackerSuite) TestCloseOfTrackedTabCommits() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(15 * time.Second)
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, Reason: models.ReasonTabClosed})

	st := s.state()
	s.Nil(st.Session)
	s.InDelta(15, st.GlobalTime["facebook.com"], 0.001)
}

func (s *TrackerSuite) TestCloseOfBackgroundTabIgnored() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(15 * time.Second)
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 99, Reason: models.ReasonTabClosed})

	st := s.state()
	s.Require().NotNil(st.Session, "the timed tab is still open")
	s.Equal("facebook.com", st.Session.Domain)
	s.Empty(st.GlobalTime, "nothing committed for a background close")
}

func (s *TrackerSuite) TestDisabledTrackingIgnoresEvents() {
	s.updateSettings(func(settings *models.Settings) {
		settings.GlobalSwitch = false
	})

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})

	s.Nil(s.state().Session)
}

func (s *TrackerSuite) TestUnconfiguredTimerAllowsAllTraffic() {
	s.updateSettings(func(settings *models.Settings) {
		settings.TimerEnabled = nil
	})

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})

	st := s.state()
	s.Nil(st.Session)
	s.Empty(st.GlobalTime)
}

// TestEnforcementFiresOnce walks the quota to exhaustion and verifies the
// redirect command is dispatched exactly once, on the crossing commit.
func (s *TrackerSuite) TestEnforcementFiresOnce() {
	s.updateSettings(func(settings *models.Settings) {
		settings.ConfiguredSeconds = 5
		settings.Action = models.ActionRedirect
		settings.RedirectURL = "https://example.org/focus"
	})

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})

	s.clk.Advance(3 * time.Second)
	s.tracker.Heartbeat()
	s.Equal(0, s.enforcer.navCount(), "two seconds still on the clock")

	s.clk.Advance(3 * time.Second)
	s.tracker.Heartbeat()
	s.Equal(1, s.enforcer.navCount(), "crossing commit redirects")

	s.clk.Advance(30 * time.Second)
	s.tracker.Heartbeat()
	s.clk.Advance(30 * time.Second)
	s.tracker.Heartbeat()
	s.Equal(1, s.enforcer.navCount(), "already exhausted, never re-fires")
}

func (s *TrackerSuite) TestBlockActionShowsOverlayOnExhaustion() {
	s.updateSettings(func(settings *models.Settings) {
		settings.ConfiguredSeconds = 5
	})

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(10 * time.Second)
	s.tracker.Heartbeat()

	st := s.state()
	s.True(st.ShowEnforcement)
	s.Zero(st.RemainingOrZero())
}

func (s *TrackerSuite) TestHeartbeatRecommitsOpenSession() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})

	s.clk.Advance(30 * time.Second)
	s.tracker.Heartbeat()
	s.clk.Advance(30 * time.Second)
	s.tracker.Heartbeat()

	st := s.state()
	s.Require().NotNil(st.Session)
	s.Equal(s.clk.Now().UnixMilli(), st.Session.StartedAt.UnixMilli(), "session restarted at the tick")
	s.InDelta(60, st.GlobalTime["facebook.com"], 0.001, "no double counting across ticks")
}

func (s *TrackerSuite) TestHeartbeatRefreshesInsights() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(30 * time.Second)
	s.tracker.Heartbeat()

	ins, err := s.store.GetInsights(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(ins)
	s.InDelta(30, ins.TodayBlocked, 0.001)
}

func (s *TrackerSuite) TestHeartbeatRollsDayOver() {
	s.tracker.Heartbeat()
	s.Equal(int(time.Monday), s.state().DayIndex)

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(time.Minute)
	s.tracker.Heartbeat()
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, Reason: models.ReasonTabClosed})

	s.clk.Advance(24 * time.Hour)
	s.tracker.Heartbeat()

	st := s.state()
	s.Equal(int(time.Tuesday), st.DayIndex)
	s.True(st.History.Days[int(time.Monday)].HasData)
	s.InDelta(60, st.History.Days[int(time.Monday)].Blocked["facebook.com"], 0.01)
	s.Empty(st.BlockedTime, "fresh accumulators for the new day")
}

func (s *TrackerSuite) TestIdleSignalCommitsAndRestarts() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(20 * time.Second)

	s.tracker.OnIdleSignal(models.SignalIdle)

	st := s.state()
	s.Equal(models.IdleIdle, st.Idle.Phase)
	s.InDelta(20, st.GlobalTime["facebook.com"], 0.001)
	s.Require().NotNil(st.Session, "session keeps running until AFK confirms")
	s.Equal(s.clk.Now().UnixMilli(), st.Session.StartedAt.UnixMilli())
}

func (s *TrackerSuite) TestAfkClearsSession() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.tracker.OnIdleSignal(models.SignalIdle)

	s.clk.Advance(301 * time.Second)
	s.tracker.Heartbeat()

	st := s.state()
	s.Equal(models.IdleAfk, st.Idle.Phase)
	s.Nil(st.Session, "confirmed AFK stops accounting entirely")
}

// TestAfkTabEventsChargeNothing covers events arriving while the user is
// confirmed absent: SPA navigations and background refreshes keep firing
// url-change events, and none of that time may reach the accumulators,
// the quota, or enforcement.
func (s *TrackerSuite) TestAfkTabEventsChargeNothing() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.tracker.OnIdleSignal(models.SignalIdle)
	s.clk.Advance(301 * time.Second)
	s.tracker.Heartbeat()
	s.Require().Equal(models.IdleAfk, s.state().Idle.Phase)

	before := s.state()
	blockedBefore := before.BlockedTime["facebook.com"]
	s.Require().NotNil(before.Remaining)
	remainingBefore := *before.Remaining

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 2, URL: "https://facebook.com/feed", Reason: models.ReasonURLChange})
	s.clk.Advance(time.Hour)
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 2, URL: "https://facebook.com/videos", Reason: models.ReasonURLChange})

	st := s.state()
	s.Equal(models.IdleAfk, st.Idle.Phase, "tab events alone never leave AFK")
	s.Nil(st.Session)
	s.InDelta(blockedBefore, st.BlockedTime["facebook.com"], 0.001, "nothing accrued during AFK")
	s.Require().NotNil(st.Remaining)
	s.InDelta(remainingBefore, *st.Remaining, 0.001, "quota untouched during AFK")
	s.False(st.ShowEnforcement)
	s.Equal(0, s.enforcer.navCount())
	s.Equal("https://facebook.com/videos", st.LastURL, "latest tab remembered for the verified return")
	s.Equal(int64(2), st.LastTabID)
}

func (s *TrackerSuite) TestConfirmedReturnResumesLastTab() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.tracker.OnIdleSignal(models.SignalIdle)
	s.clk.Advance(301 * time.Second)
	s.tracker.Heartbeat()
	s.Require().Nil(s.state().Session)

	s.tracker.OnIdleSignal(models.SignalActive)
	s.Equal(models.IdlePendingReturn, s.state().Idle.Phase)

	// Ten seconds is inside the verification window.
	s.clk.Advance(10 * time.Second)
	s.tracker.Heartbeat()

	st := s.state()
	s.Equal(models.IdleActive, st.Idle.Phase)
	s.Require().NotNil(st.Session)
	s.Equal("facebook.com", st.Session.Domain, "resumes the last known tab")
}

func (s *TrackerSuite) TestNoisyReturnRejected() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.tracker.OnIdleSignal(models.SignalIdle)
	s.clk.Advance(301 * time.Second)
	s.tracker.Heartbeat()

	s.tracker.OnIdleSignal(models.SignalActive)
	// A heartbeat landing outside the window means the signal was noise.
	s.clk.Advance(60 * time.Second)
	s.tracker.Heartbeat()

	st := s.state()
	s.NotEqual(models.IdleActive, st.Idle.Phase)
	s.Nil(st.Session)
}

func (s *TrackerSuite) TestDisableMidSessionCommitsAndClears() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(25 * time.Second)

	// SaveSettings notifies the tracker synchronously.
	s.updateSettings(func(settings *models.Settings) {
		settings.GlobalSwitch = false
	})

	st := s.state()
	s.Nil(st.Session, "no orphaned session after disable")
	s.False(st.ShowEnforcement)
	s.InDelta(25, st.GlobalTime["facebook.com"], 0.001, "time up to the toggle is kept")
}

func (s *TrackerSuite) TestQuotaChangeReseedsCountdown() {
	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(100 * time.Second)
	s.tracker.Heartbeat()
	s.InDelta(500, *s.state().Remaining, 0.001)

	s.updateSettings(func(settings *models.Settings) {
		settings.ConfiguredSeconds = 1200
	})

	st := s.state()
	s.Require().NotNil(st.Remaining)
	s.InDelta(1200, *st.Remaining, 0.001, "policy change restarts the countdown")
	s.False(st.ShowEnforcement)
}

func (s *TrackerSuite) TestTimerReenableReseeds() {
	s.updateSettings(func(settings *models.Settings) {
		settings.TimerEnabled = nil
	})
	s.updateSettings(func(settings *models.Settings) {
		enabled := true
		settings.TimerEnabled = &enabled
	})

	st := s.state()
	s.Require().NotNil(st.Remaining)
	s.InDelta(600, *st.Remaining, 0.001)
}

func (s *TrackerSuite) TestUnblockExcisesBlockedTime() {
	// Seed an archived day so retroactive edits would be visible.
	archived, err := s.store.LoadState(s.ctx)
	s.Require().NoError(err)
	archived.History.Days[int(time.Sunday)] = models.DayRecord{
		HasData: true,
		Blocked: models.TimeMap{"facebook.com": 120},
	}
	s.Require().NoError(s.store.SaveState(s.ctx, archived))

	s.tracker.ProcessTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.clk.Advance(40 * time.Second)
	s.tracker.Heartbeat()
	s.InDelta(40, s.state().BlockedTime["facebook.com"], 0.001)

	s.updateSettings(func(settings *models.Settings) {
		settings.Websites = models.WebsiteList{}
	})

	st := s.state()
	s.Empty(st.BlockedTime, "unblocked domains leave the blocked map")
	s.InDelta(40, st.GlobalTime["facebook.com"], 0.001, "global accounting is permanent")
	s.InDelta(120, st.History.Days[int(time.Sunday)].Blocked["facebook.com"], 0.001,
		"archived days are never rewritten")
}

func (s *TrackerSuite) TestDebounceCoalescesEventBurst() {
	s.tracker.OnTabEvent(models.TabEvent{TabID: 1, URL: "https://example.com", Reason: models.ReasonTabSwitch})
	s.tracker.OnTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonURLChange})

	s.Require().Eventually(func() bool {
		st := s.state()
		return st.Session != nil && st.Session.Domain == "facebook.com"
	}, time.Second, 10*time.Millisecond)

	s.Empty(s.state().GlobalTime, "the superseded event never committed anything")
}

func (s *TrackerSuite) TestStopFlushesPendingEvent() {
	s.tracker.OnTabEvent(models.TabEvent{TabID: 1, URL: "https://facebook.com", Reason: models.ReasonTabSwitch})
	s.tracker.Stop()

	st := s.state()
	s.Require().NotNil(st.Session)
	s.Equal("facebook.com", st.Session.Domain)
}
