package model

import (
	"time"
)

// Companion is an AI persona a conversation is held with. Companions are
// seeded at startup; there is no create/update surface.
type Companion struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:128"`
	Persona   string    `json:"persona" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt"`
}
