package storage

import (
	"time"

	"gorm.io/gorm"
)

const (
	SourcePoll    = "poll"
	SourceCommand = "command"
)

type StateChange struct {
	gorm.Model
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	EntityID string `gorm:"index" json:"entity_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	State    bool   `json:"state"`
	Source   string `json:"source"`
}
