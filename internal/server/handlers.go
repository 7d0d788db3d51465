package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timewall/timewall/internal/blocklist"
	"github.com/timewall/timewall/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleTabEvent ingests a tab activation, URL change, or close.
func (s *Service) handleTabEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.TabEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tab event")
		return
	}
	switch ev.Reason {
	case models.ReasonTabSwitch, models.ReasonURLChange, models.ReasonTabClosed,
		models.ReasonSettingsToggle, models.ReasonStartup:
	case "":
		ev.Reason = models.ReasonTabSwitch
	default:
		writeError(w, http.StatusBadRequest, "unknown event reason")
		return
	}

	s.tracker.OnTabEvent(ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type idleEventRequest struct {
	State models.IdleSignal `json:"state"`
}

// handleIdleEvent ingests an OS idle/active report.
func (s *Service) handleIdleEvent(w http.ResponseWriter, r *http.Request) {
	var req idleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid idle event")
		return
	}
	if req.State != models.SignalIdle && req.State != models.SignalActive {
		writeError(w, http.StatusBadRequest, "state must be idle or active")
		return
	}

	s.tracker.OnIdleSignal(req.State)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

type stateResponse struct {
	ShowEnforcement  bool                     `json:"show_enforcement"`
	Action           models.EnforcementAction `json:"action"`
	GlobalSwitch     bool                     `json:"global_switch"`
	TimerEnabled     *bool                    `json:"timer_enabled"`
	RemainingSeconds *float64                 `json:"remaining_seconds"`
	Session          *models.Session          `json:"session,omitempty"`
	IdlePhase        models.IdlePhase         `json:"idle_phase"`
}

// handleGetState serves the overlay contract: whether to render the
// enforcement UI and which action is configured, plus the live countdown.
func (s *Service) handleGetState(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	st, err := s.store.LoadState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read state")
		return
	}

	resp := stateResponse{
		ShowEnforcement:  st.ShowEnforcement && settings.GlobalSwitch,
		Action:           settings.Action,
		GlobalSwitch:     settings.GlobalSwitch,
		TimerEnabled:     settings.TimerEnabled,
		RemainingSeconds: st.Remaining,
		Session:          st.Session,
		IdlePhase:        st.Idle.Phase,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetInsights serves the cached insights record.
func (s *Service) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	ins, err := s.store.GetInsights(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read insights")
		return
	}
	if ins == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handlePutSettings replaces the user policy. The tracker reacts through
// the store's change notification, not through this handler.
func (s *Service) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings")
		return
	}

	if !settings.Action.Valid() {
		writeError(w, http.StatusBadRequest, "unknown enforcement action")
		return
	}
	if settings.ConfiguredSeconds < 0 {
		writeError(w, http.StatusBadRequest, "configured_seconds must not be negative")
		return
	}
	if settings.Action == models.ActionRedirect {
		if settings.RedirectURL == "" {
			writeError(w, http.StatusBadRequest, "redirect action requires redirect_url")
			return
		}
		matcher := blocklist.NewMatcher(settings.Websites)
		if matcher.MatchesURL(settings.RedirectURL) {
			writeError(w, http.StatusBadRequest, "redirect_url is on the block list")
			return
		}
	}

	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Service) handleListWebsites(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	if settings.Websites == nil {
		settings.Websites = models.WebsiteList{}
	}
	writeJSON(w, http.StatusOK, settings.Websites)
}

type addWebsiteRequest struct {
	Domain string `json:"domain"`
}

// handleAddWebsite validates and appends a block-list entry.
func (s *Service) handleAddWebsite(w http.ResponseWriter, r *http.Request) {
	var req addWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !blocklist.ValidSyntax(req.Domain) {
		writeError(w, http.StatusBadRequest, "enter a valid domain")
		return
	}
	domain := blocklist.NormalizeEntry(req.Domain)

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	for _, site := range settings.Websites {
		if strings.EqualFold(site.Domain, domain) {
			writeError(w, http.StatusConflict, "site already exists")
			return
		}
	}

	site := models.Website{ID: uuid.NewString(), Domain: domain}
	settings.Websites = append(models.WebsiteList{site}, settings.Websites...)

	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

// handleUpdateWebsite renames a block-list entry. Clearing the text
// removes the entry, matching how the list editor behaves.
func (s *Service) handleUpdateWebsite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req addWebsiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}

	idx := -1
	for i, site := range settings.Websites {
		if site.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeError(w, http.StatusNotFound, "website not found")
		return
	}

	if strings.TrimSpace(req.Domain) == "" {
		settings.Websites = append(settings.Websites[:idx], settings.Websites[idx+1:]...)
		if err := s.store.SaveSettings(r.Context(), settings); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !blocklist.ValidSyntax(req.Domain) {
		writeError(w, http.StatusBadRequest, "enter a valid domain")
		return
	}
	domain := blocklist.NormalizeEntry(req.Domain)
	for i, site := range settings.Websites {
		if i != idx && strings.EqualFold(site.Domain, domain) {
			writeError(w, http.StatusConflict, "site already exists")
			return
		}
	}

	settings.Websites[idx].Domain = domain
	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings.Websites[idx])
}

func (s *Service) handleRemoveWebsite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}

	filtered := settings.Websites[:0:0]
	found := false
	for _, site := range settings.Websites {
		if site.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, site)
	}
	if !found {
		writeError(w, http.StatusNotFound, "website not found")
		return
	}
	settings.Websites = filtered

	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"sse_clients":    s.broadcaster.ClientCount(),
	})
}
