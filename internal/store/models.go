package store

import (
	"database/sql"

	"github.com/timewall/timewall/pkg/models"
)

// Singleton row IDs. Both tables hold exactly one row.
const singletonID = 1

// SettingsRow is the persisted user policy (settings partition).
type SettingsRow struct {
	ID                int64              `gorm:"primaryKey"`
	GlobalSwitch      bool               `gorm:"not null;default:true"`
	TimerEnabled      sql.NullBool
	Paused            bool               `gorm:"not null;default:false"`
	ConfiguredSeconds int                `gorm:"not null;default:1800"`
	Action            string             `gorm:"type:text;not null;default:'block'"`
	RedirectURL       string             `gorm:"type:text"`
	InstantPurge      bool               `gorm:"not null;default:false"`
	Websites          models.WebsiteList `gorm:"type:text"`

	IdleThresholdSeconds int `gorm:"not null;default:60"`
	AFKThresholdSeconds  int `gorm:"column:afk_threshold_seconds;not null;default:300"`
	VerifyMinSeconds     int `gorm:"not null;default:2"`
	VerifyMaxSeconds     int `gorm:"not null;default:28"`

	UpdatedAtEpoch int64 `gorm:"not null;default:0"`
}

func (SettingsRow) TableName() string { return "settings" }

// LocalStateRow is the persisted engine state (local partition).
type LocalStateRow struct {
	ID int64 `gorm:"primaryKey"`

	SessionDomain         sql.NullString
	SessionStartedAtEpoch sql.NullInt64

	RemainingSeconds sql.NullFloat64
	ShowEnforcement  bool `gorm:"not null;default:false"`

	GlobalTime  models.TimeMap `gorm:"type:text"`
	BlockedTime models.TimeMap `gorm:"type:text"`

	DayIndex sql.NullInt64
	History  models.DailyHistory `gorm:"type:text"`

	IdlePhase         string `gorm:"type:text;not null;default:'active'"`
	IdleSinceEpoch    sql.NullInt64
	PendingSinceEpoch sql.NullInt64

	LastTabID sql.NullInt64
	LastURL   sql.NullString

	InsightsJSON sql.NullString `gorm:"type:text"`

	UpdatedAtEpoch int64 `gorm:"not null;default:0"`
}

func (LocalStateRow) TableName() string { return "local_state" }
