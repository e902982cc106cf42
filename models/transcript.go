package models

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript stores one utterance of a simulation
type Transcript struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	SimulationID uint      `json:"simulationId" gorm:"not null;index"`
	Role         string    `json:"role" gorm:"type:varchar(20);not null;check:role IN ('user', 'assistant')"`
	Content      string    `json:"content" gorm:"type:text;not null"`
	Timestamp    time.Time `json:"timestamp" gorm:"not null;autoCreateTime;index"`
}

// TableName returns the table name for the Transcript model
func (Transcript) TableName() string {
	return "transcripts"
}

// ChatMessage is a role-tagged message handed to the language model
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
