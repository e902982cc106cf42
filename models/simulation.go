package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// Simulation represents one practice run by one participant
type Simulation struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserName  string         `json:"userName" gorm:"type:text;not null"`
	Score     *int           `json:"score"`
	Feedback  datatypes.JSON `json:"feedback" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"createdAt" gorm:"not null;autoCreateTime"`

	// Relationships
	Transcripts []Transcript `json:"transcripts,omitempty" gorm:"foreignKey:SimulationID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for the Simulation model
func (Simulation) TableName() string {
	return "simulations"
}

// Status is derived from the score: a simulation is complete once it has been scored
func (s *Simulation) Status() string {
	if s.Score == nil {
		return StatusInProgress
	}
	return StatusComplete
}

// ParsedFeedback decodes the stored feedback. It returns nil when the simulation
// has not been scored yet.
func (s *Simulation) ParsedFeedback() (*Feedback, error) {
	if len(s.Feedback) == 0 || string(s.Feedback) == "null" {
		return nil, nil
	}
	var fb Feedback
	if err := json.Unmarshal(s.Feedback, &fb); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}
	return &fb, nil
}

// FeedbackSection is the judgment for one rubric dimension
type FeedbackSection struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Feedback is the structured scoring result stored alongside the score
type Feedback struct {
	TotalScore      int               `json:"totalScore"`
	Sections        []FeedbackSection `json:"sections"`
	Strengths       []string          `json:"strengths"`
	Improvements    []string          `json:"improvements"`
	IncorrectClaims []string          `json:"incorrectClaims"`
}

// JSON encodes the feedback for the jsonb column
func (f Feedback) JSON() (datatypes.JSON, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feedback: %w", err)
	}
	return datatypes.JSON(data), nil
}
