package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conecoach/backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// DB exposes the underlying connection for health checks
func (r *GORMRepository) DB() *gorm.DB {
	return r.db
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.Simulation{},
		&models.Transcript{},
	)
}

// CreateSimulation inserts a new simulation together with its opening assistant turn.
// Both rows are written in one transaction so a simulation never exists without its greeting.
func (r *GORMRepository) CreateSimulation(ctx context.Context, userName, greeting string) (*models.Simulation, error) {
	sim := &models.Simulation{UserName: userName}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sim).Error; err != nil {
			return fmt.Errorf("failed to create simulation: %w", err)
		}
		turn := &models.Transcript{
			SimulationID: sim.ID,
			Role:         models.RoleAssistant,
			Content:      greeting,
		}
		if err := tx.Create(turn).Error; err != nil {
			return fmt.Errorf("failed to create greeting: %w", err)
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to create simulation", "error", err, "user_name", userName)
		return nil, err
	}

	slog.Info("Simulation created", "simulation_id", sim.ID, "user_name", userName)
	return sim, nil
}

func (r *GORMRepository) GetSimulation(ctx context.Context, id uint) (*models.Simulation, error) {
	var sim models.Simulation
	if err := r.db.WithContext(ctx).First(&sim, id).Error; err != nil {
		err = translateError(err)
		if err != ErrNotFound {
			slog.Error("Failed to get simulation", "error", err, "simulation_id", id)
		}
		return nil, err
	}
	return &sim, nil
}

// UpdateSimulationScore writes score and feedback together. Calling it again overwrites
// the previous result.
func (r *GORMRepository) UpdateSimulationScore(ctx context.Context, id uint, score int, feedback models.Feedback) (*models.Simulation, error) {
	encoded, err := feedback.JSON()
	if err != nil {
		return nil, err
	}

	result := r.db.WithContext(ctx).
		Model(&models.Simulation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":    score,
			"feedback": encoded,
		})
	if result.Error != nil {
		slog.Error("Failed to update simulation score", "error", result.Error, "simulation_id", id)
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	slog.Info("Simulation scored", "simulation_id", id, "score", score)
	return r.GetSimulation(ctx, id)
}

// ListSimulations returns every simulation, newest first
func (r *GORMRepository) ListSimulations(ctx context.Context) ([]models.Simulation, error) {
	sims := []models.Simulation{}
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&sims).Error; err != nil {
		slog.Error("Failed to list simulations", "error", err)
		return nil, err
	}
	return sims, nil
}

// ListSimulationsWithTranscripts returns every simulation with its ordered transcripts
func (r *GORMRepository) ListSimulationsWithTranscripts(ctx context.Context) ([]models.Simulation, error) {
	sims := []models.Simulation{}
	err := r.db.WithContext(ctx).
		Preload("Transcripts", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).Order("id ASC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Find(&sims).Error
	if err != nil {
		slog.Error("Failed to export simulations", "error", err)
		return nil, err
	}

	for i := range sims {
		if sims[i].Transcripts == nil {
			sims[i].Transcripts = []models.Transcript{}
		}
	}
	return sims, nil
}

// TopSimulations returns scored simulations ordered by score, highest first.
// Equal scores fall back to id order so one query always returns the same ranking.
func (r *GORMRepository) TopSimulations(ctx context.Context, limit int) ([]models.Simulation, error) {
	sims := []models.Simulation{}
	err := r.db.WithContext(ctx).
		Where("score IS NOT NULL").
		Order("score DESC").
		Order("id ASC").
		Limit(limit).
		Find(&sims).Error
	if err != nil {
		slog.Error("Failed to get top simulations", "error", err, "limit", limit)
		return nil, err
	}
	return sims, nil
}

// CountSimulations is used by the seeder to stay idempotent
func (r *GORMRepository) CountSimulations(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Simulation{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
