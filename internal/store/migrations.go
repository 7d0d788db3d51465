package store

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_partitions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&SettingsRow{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&LocalStateRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("settings", "local_state")
			},
		},
	})
	return m.Migrate()
}

// seedRows inserts the singleton settings and state rows if missing so
// every read path can assume they exist.
func (s *Store) seedRows() error {
	var count int64
	if err := s.db.Model(&SettingsRow{}).Where("id = ?", singletonID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		row := settingsToRow(defaultSettings())
		row.ID = singletonID
		if err := s.db.Create(&row).Error; err != nil {
			return err
		}
	}

	if err := s.db.Model(&LocalStateRow{}).Where("id = ?", singletonID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		row := stateToRow(newEngineState())
		row.ID = singletonID
		if err := s.db.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
