package store

import (
	"context"
	"database/sql"
	"time"

	json "github.com/goccy/go-json"

	"github.com/timewall/timewall/pkg/models"
)

func newEngineState() *models.EngineState { return models.NewEngineState() }

func stateToRow(st *models.EngineState) LocalStateRow {
	row := LocalStateRow{
		ShowEnforcement: st.ShowEnforcement,
		GlobalTime:      st.GlobalTime,
		BlockedTime:     st.BlockedTime,
		History:         st.History,
		IdlePhase:       string(st.Idle.Phase),
		UpdatedAtEpoch:  time.Now().UnixMilli(),
	}
	if st.Session != nil {
		row.SessionDomain = sql.NullString{String: st.Session.Domain, Valid: true}
		row.SessionStartedAtEpoch = sql.NullInt64{Int64: st.Session.StartedAt.UnixMilli(), Valid: true}
	}
	if st.Remaining != nil {
		row.RemainingSeconds = sql.NullFloat64{Float64: *st.Remaining, Valid: true}
	}
	if st.DayIndex >= 0 {
		row.DayIndex = sql.NullInt64{Int64: int64(st.DayIndex), Valid: true}
	}
	if !st.Idle.IdleSince.IsZero() {
		row.IdleSinceEpoch = sql.NullInt64{Int64: st.Idle.IdleSince.UnixMilli(), Valid: true}
	}
	if !st.Idle.PendingSince.IsZero() {
		row.PendingSinceEpoch = sql.NullInt64{Int64: st.Idle.PendingSince.UnixMilli(), Valid: true}
	}
	if st.LastTabID != 0 {
		row.LastTabID = sql.NullInt64{Int64: st.LastTabID, Valid: true}
	}
	if st.LastURL != "" {
		row.LastURL = sql.NullString{String: st.LastURL, Valid: true}
	}
	return row
}

func rowToState(row LocalStateRow) *models.EngineState {
	st := &models.EngineState{
		ShowEnforcement: row.ShowEnforcement,
		GlobalTime:      row.GlobalTime,
		BlockedTime:     row.BlockedTime,
		DayIndex:        -1,
		History:         row.History,
		Idle:            models.IdleSnapshot{Phase: models.IdlePhase(row.IdlePhase)},
	}
	if st.GlobalTime == nil {
		st.GlobalTime = make(models.TimeMap)
	}
	if st.BlockedTime == nil {
		st.BlockedTime = make(models.TimeMap)
	}
	if st.Idle.Phase == "" {
		st.Idle.Phase = models.IdleActive
	}
	if row.SessionDomain.Valid && row.SessionStartedAtEpoch.Valid {
		st.Session = &models.Session{
			Domain:    row.SessionDomain.String,
			StartedAt: time.UnixMilli(row.SessionStartedAtEpoch.Int64),
		}
	}
	if row.RemainingSeconds.Valid {
		st.SetRemaining(row.RemainingSeconds.Float64)
	}
	if row.DayIndex.Valid {
		st.DayIndex = int(row.DayIndex.Int64)
	}
	if row.IdleSinceEpoch.Valid {
		st.Idle.IdleSince = time.UnixMilli(row.IdleSinceEpoch.Int64)
	}
	if row.PendingSinceEpoch.Valid {
		st.Idle.PendingSince = time.UnixMilli(row.PendingSinceEpoch.Int64)
	}
	if row.LastTabID.Valid {
		st.LastTabID = row.LastTabID.Int64
	}
	if row.LastURL.Valid {
		st.LastURL = row.LastURL.String
	}
	return st
}

// LoadState reads the full engine state snapshot.
func (s *Store) LoadState(ctx context.Context) (*models.EngineState, error) {
	var row LocalStateRow
	if err := s.db.WithContext(ctx).First(&row, singletonID).Error; err != nil {
		return nil, err
	}
	return rowToState(row), nil
}

// SaveState writes the engine state back as one unit and notifies
// listeners on the local partition.
func (s *Store) SaveState(ctx context.Context, st *models.EngineState) error {
	row := stateToRow(st)
	row.ID = singletonID

	// Save on a row with NULLable columns must go through Select("*") so
	// cleared fields (committed session, unset quota) actually null out.
	err := s.db.WithContext(ctx).Model(&LocalStateRow{}).
		Where("id = ?", singletonID).
		Select("*").Omit("id", "insights_json").
		Updates(&row).Error
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Partition: PartitionLocal, Keys: []string{"state"}})
	return nil
}

// GetInsights reads the cached insights record, or nil if never computed.
func (s *Store) GetInsights(ctx context.Context) (*models.Insights, error) {
	var row LocalStateRow
	if err := s.db.WithContext(ctx).Select("insights_json").First(&row, singletonID).Error; err != nil {
		return nil, err
	}
	if !row.InsightsJSON.Valid || row.InsightsJSON.String == "" {
		return nil, nil
	}
	var ins models.Insights
	if err := json.Unmarshal([]byte(row.InsightsJSON.String), &ins); err != nil {
		return nil, err
	}
	return &ins, nil
}

// SaveInsights caches the derived insights record.
func (s *Store) SaveInsights(ctx context.Context, ins *models.Insights) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&LocalStateRow{}).
		Where("id = ?", singletonID).
		Update("insights_json", string(data)).Error
	if err != nil {
		return err
	}
	s.notify(ChangeEvent{Partition: PartitionLocal, Keys: []string{"insights"}})
	return nil
}
