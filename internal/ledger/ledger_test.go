package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewall/timewall/internal/blocklist"
	"github.com/timewall/timewall/pkg/models"
)

// recordingEnforcer captures outward commands for assertions.
type recordingEnforcer struct {
	navigated []string
	closed    []int64
}

func (r *recordingEnforcer) NavigateTab(tabID int64, url string) {
	r.navigated = append(r.navigated, url)
}

func (r *recordingEnforcer) CloseTab(tabID int64) {
	r.closed = append(r.closed, tabID)
}

func boolPtr(v bool) *bool { return &v }

func testSettings() *models.Settings {
	s := models.DefaultSettings()
	s.TimerEnabled = boolPtr(true)
	s.Websites = models.WebsiteList{{ID: "1", Domain: "facebook.com"}}
	return &s
}

func testMatcher(s *models.Settings) *blocklist.Matcher {
	return blocklist.NewMatcher(s.Websites)
}

func sessionAt(domain string, start time.Time) *models.Session {
	return &models.Session{Domain: domain, StartedAt: start}
}

func TestCommitAccumulates(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()
	st.SetRemaining(600)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	res := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", start), start.Add(30*time.Second))

	assert.InDelta(t, 30, res.Delta, 0.001)
	assert.True(t, res.Blocked)
	assert.False(t, res.Crossed)
	assert.InDelta(t, 30, st.GlobalTime["facebook.com"], 0.001)
	assert.InDelta(t, 30, st.BlockedTime["facebook.com"], 0.001)
	require.NotNil(t, st.Remaining)
	assert.InDelta(t, 570, *st.Remaining, 0.001)
}

func TestCommitUnblockedDomain(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()
	st.SetRemaining(600)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	res := Commit(st, settings, testMatcher(settings), sessionAt("example.com", start), start.Add(45*time.Second))

	assert.False(t, res.Blocked)
	assert.InDelta(t, 45, st.GlobalTime["example.com"], 0.001)
	assert.Zero(t, st.BlockedTime["example.com"])
	assert.InDelta(t, 600, *st.Remaining, 0.001, "quota untouched for unblocked domains")
}

func TestCommitNegativeDelta(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()
	st.SetRemaining(600)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	res := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", now.Add(time.Minute)), now)

	assert.Zero(t, res.Delta)
	assert.Empty(t, st.GlobalTime)
	assert.InDelta(t, 600, *st.Remaining, 0.001)
}

func TestCommitPausedSkipsQuota(t *testing.T) {
	settings := testSettings()
	settings.Paused = true
	st := models.NewEngineState()
	st.SetRemaining(600)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	res := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", start), start.Add(20*time.Second))

	assert.True(t, res.Blocked)
	assert.InDelta(t, 20, st.BlockedTime["facebook.com"], 0.001, "accumulators still run while paused")
	assert.InDelta(t, 600, *st.Remaining, 0.001, "countdown frozen while paused")
}

func TestCommitTimerOffSkipsQuota(t *testing.T) {
	settings := testSettings()
	settings.TimerEnabled = boolPtr(false)
	st := models.NewEngineState()
	st.SetRemaining(600)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", start), start.Add(20*time.Second))

	assert.InDelta(t, 600, *st.Remaining, 0.001)
}

func TestCommitSelfHealsMissingCountdown(t *testing.T) {
	settings := testSettings()
	settings.ConfiguredSeconds = 100
	st := models.NewEngineState()
	require.Nil(t, st.Remaining)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", start), start.Add(30*time.Second))

	require.NotNil(t, st.Remaining)
	assert.InDelta(t, 70, *st.Remaining, 0.001)
}

// TestCommitCrossesOnce verifies exactly-once crossing detection: with
// five seconds left, one three-second commit crosses is false, the next
// crosses, and a third never reports crossing again.
func TestCommitCrossesOnce(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()
	st.SetRemaining(5)

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	step := 3 * time.Second

	res1 := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", now), now.Add(step))
	assert.False(t, res1.Crossed)
	assert.InDelta(t, 2, *st.Remaining, 0.001)

	res2 := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", now.Add(step)), now.Add(2*step))
	assert.True(t, res2.Crossed)
	assert.Zero(t, *st.Remaining, "countdown clamps at zero")

	res3 := Commit(st, settings, testMatcher(settings), sessionAt("facebook.com", now.Add(2*step)), now.Add(3*step))
	assert.False(t, res3.Crossed)
	assert.Zero(t, *st.Remaining)
}

func TestEnforceBlock(t *testing.T) {
	settings := testSettings()
	settings.Action = models.ActionBlock
	st := models.NewEngineState()
	enf := &recordingEnforcer{}

	Enforce(st, settings, testMatcher(settings), enf, 7)

	assert.True(t, st.ShowEnforcement)
	assert.Empty(t, enf.closed)
}

func TestEnforceBlockInstantPurge(t *testing.T) {
	settings := testSettings()
	settings.Action = models.ActionBlock
	settings.InstantPurge = true
	st := models.NewEngineState()
	enf := &recordingEnforcer{}

	Enforce(st, settings, testMatcher(settings), enf, 7)

	assert.True(t, st.ShowEnforcement)
	assert.Equal(t, []int64{7}, enf.closed)
}

func TestEnforceRedirect(t *testing.T) {
	settings := testSettings()
	settings.Action = models.ActionRedirect
	settings.RedirectURL = "https://example.org/focus"
	st := models.NewEngineState()
	enf := &recordingEnforcer{}

	Enforce(st, settings, testMatcher(settings), enf, 7)

	assert.False(t, st.ShowEnforcement)
	assert.Equal(t, []string{"https://example.org/focus"}, enf.navigated)
}

func TestEnforceRedirectToBlockedSkipped(t *testing.T) {
	settings := testSettings()
	settings.Action = models.ActionRedirect
	settings.RedirectURL = "https://www.facebook.com"
	st := models.NewEngineState()
	enf := &recordingEnforcer{}

	Enforce(st, settings, testMatcher(settings), enf, 7)

	assert.Empty(t, enf.navigated, "redirecting into the block list would loop")
}

func TestEnforceDisabled(t *testing.T) {
	settings := testSettings()
	settings.Action = models.ActionDisabled
	st := models.NewEngineState()
	enf := &recordingEnforcer{}

	Enforce(st, settings, testMatcher(settings), enf, 7)

	assert.False(t, st.ShowEnforcement)
	assert.Empty(t, enf.navigated)
	assert.Empty(t, enf.closed)
}

func TestShouldShow(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()

	// Countdown running positive: hidden.
	st.SetRemaining(100)
	assert.False(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"))

	// Exhausted: shown for blocked domains only.
	st.SetRemaining(0)
	assert.True(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"))
	assert.False(t, ShouldShow(st, settings, testMatcher(settings), "example.com"))

	// Redirect and disabled actions render no overlay.
	settings.Action = models.ActionRedirect
	assert.False(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"))
	settings.Action = models.ActionWarn
	assert.True(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"))
}

func TestShouldShowUnseededCountdown(t *testing.T) {
	settings := testSettings()
	st := models.NewEngineState()
	require.Nil(t, st.Remaining)

	assert.False(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"),
		"unseeded countdown behaves as the full budget")

	settings.TimerEnabled = nil
	assert.True(t, ShouldShow(st, settings, testMatcher(settings), "facebook.com"),
		"timer off means the overlay decision ignores the countdown")
}
