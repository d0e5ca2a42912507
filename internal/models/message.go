package models

import (
	"time"

	"gorm.io/gorm"
)

// Message is a persisted chat message. UserID is a weak reference to the
// author and may dangle after the user is deleted.
type Message struct {
	ID          string    `gorm:"primaryKey;size:26" json:"_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Username    string    `gorm:"size:64;not null" json:"username"`
	UserID      *string   `gorm:"size:26;index" json:"user,omitempty"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
	IsOffensive bool      `gorm:"not null;default:false" json:"isOffensive"`
}

// BeforeCreate assigns the id and timestamp when the caller left them empty
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return nil
}
