package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/scoring"
)

// DatabaseSeeder fills an empty database with scored demo simulations so the
// leaderboard has something to show
type DatabaseSeeder struct {
	repo *repository.GORMRepository
}

func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

type demoSimulation struct {
	name    string
	opening string
	score   int
}

var demoSimulations = []demoSimulation{
	{"Avery Collins", "The Universal Cones work with every major tibial and femoral system, so you don't have to change your implant.", 91},
	{"Jordan Park", "We cut the tray count from ten or twelve down to one for most cases.", 84},
	{"Morgan Reyes", "Our data shows a 44% drop in OR setup time.", 77},
	{"Taylor Brooks", "It's a cone that fits anything, really.", 58},
	{"Casey Nguyen", "You can orient the tibial cone medial or lateral depending on the defect.", 73},
	{"Riley Adams", "I'd like to show you how the single-tray workflow saves about $1,350 per case.", 88},
	{"Quinn Foster", "It's cleared for primary cases too, so you can use it everywhere.", 42},
	{"Drew Patel", "What's your biggest frustration with your current revision workflow?", 80},
}

// SeedDatabase is idempotent: it does nothing once any simulation exists
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	count, err := s.repo.CountSimulations(ctx)
	if err != nil {
		return fmt.Errorf("failed to count simulations: %w", err)
	}
	if count > 0 {
		slog.Info("Database already has simulations, skipping seed", "count", count)
		return nil
	}

	for _, demo := range demoSimulations {
		if err := s.seedSimulation(ctx, demo); err != nil {
			slog.Error("Failed to seed simulation", "user_name", demo.name, "error", err)
		}
	}

	slog.Info("Database seeding completed", "simulations", len(demoSimulations))
	return nil
}

func (s *DatabaseSeeder) seedSimulation(ctx context.Context, demo demoSimulation) error {
	sim, err := s.repo.CreateSimulation(ctx, demo.name, Greeting)
	if err != nil {
		return err
	}

	if err := s.repo.AddTranscript(ctx, &models.Transcript{
		SimulationID: sim.ID,
		Role:         models.RoleUser,
		Content:      demo.opening,
	}); err != nil {
		return err
	}

	_, err = s.repo.UpdateSimulationScore(ctx, sim.ID, demo.score, demoFeedback(demo.score))
	return err
}

// demoFeedback spreads the total evenly across the rubric
func demoFeedback(total int) models.Feedback {
	rubric := scoring.DefaultRubric
	sections := make([]models.FeedbackSection, 0, len(rubric))
	remaining := total
	for i, dim := range rubric {
		share := total / len(rubric)
		if i == len(rubric)-1 {
			share = remaining
		}
		remaining -= share
		sections = append(sections, models.FeedbackSection{
			Name:     dim.Name,
			Score:    share,
			Feedback: "Demo result.",
		})
	}

	return models.Feedback{
		TotalScore:      total,
		Sections:        sections,
		Strengths:       []string{"Opened with a clear value statement"},
		Improvements:    []string{"Back claims with specific data points"},
		IncorrectClaims: []string{},
	}
}
