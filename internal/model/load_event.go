package model

import "time"

// LoadEvent is the audit record of one model load or reload attempt.
type LoadEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Instance   string    `gorm:"size:64;not null;index" json:"instance"`
	Path       string    `gorm:"size:512;not null" json:"path"`
	ModTime    time.Time `json:"mod_time"`
	Trigger    string    `gorm:"size:16;not null;index" json:"trigger"`
	Success    bool      `gorm:"not null" json:"success"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `gorm:"not null" json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (LoadEvent) TableName() string {
	return "model_load_events"
}
