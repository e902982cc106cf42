package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conecoach/backend/models"
	"gorm.io/gorm/clause"
)

// AddTranscript appends one turn to a simulation. The timestamp is assigned on insert.
func (r *GORMRepository) AddTranscript(ctx context.Context, turn *models.Transcript) error {
	if err := r.db.WithContext(ctx).Create(turn).Error; err != nil {
		err = translateError(err)
		if err == ErrNotFound {
			return err
		}
		slog.Error("Failed to save transcript", "error", err, "simulation_id", turn.SimulationID)
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	slog.Info("Transcript saved", "transcript_id", turn.ID, "simulation_id", turn.SimulationID, "role", turn.Role)
	return nil
}

// GetTranscripts returns the turns of a simulation in insertion order
func (r *GORMRepository) GetTranscripts(ctx context.Context, simulationID uint) ([]models.Transcript, error) {
	transcripts := []models.Transcript{}

	err := r.db.WithContext(ctx).
		Where("simulation_id = ?", simulationID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order("id ASC").
		Find(&transcripts).Error
	if err != nil {
		slog.Error("Failed to get transcripts", "error", err, "simulation_id", simulationID)
		return nil, fmt.Errorf("failed to get transcripts: %w", err)
	}
	return transcripts, nil
}
