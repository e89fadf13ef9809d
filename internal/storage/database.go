package storage

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&StateChange{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) SaveChanges(changes []StateChange) error {
	if len(changes) == 0 {
		return nil
	}
	return d.db.Create(&changes).Error
}

// History returns the newest changes first. An empty entityID matches all.
func (d *Database) History(entityID string, limit int) ([]StateChange, error) {
	var changes []StateChange
	q := d.db.Order("timestamp desc, id desc")
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (d *Database) Latest(limit int) ([]StateChange, error) {
	return d.History("", limit)
}

func (d *Database) LastChange(entityID string) (*StateChange, error) {
	var change StateChange
	result := d.db.Where("entity_id = ?", entityID).
		Order("timestamp desc, id desc").
		First(&change)
	if result.Error != nil {
		return nil, result.Error
	}
	return &change, nil
}

func (d *Database) CleanOldChanges(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := d.db.Unscoped().Where("timestamp < ?", cutoff).Delete(&StateChange{})
	return result.RowsAffected, result.Error
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
