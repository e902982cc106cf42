// Package scoring grades a finished simulation against the truth set and
// stores the result.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conecoach/backend/models"
)

// Store is the persistence the orchestrator needs
type Store interface {
	GetSimulation(ctx context.Context, id uint) (*models.Simulation, error)
	GetTranscripts(ctx context.Context, simulationID uint) ([]models.Transcript, error)
	UpdateSimulationScore(ctx context.Context, id uint, score int, feedback models.Feedback) (*models.Simulation, error)
}

// Judge grades a conversation and returns the raw model output
type Judge interface {
	Judge(ctx context.Context, req Request) (string, error)
}

// Report is handed off after scoring for delivery outside the request
type Report struct {
	SimulationID uint
	UserName     string
	Score        int
	Feedback     models.Feedback
	Transcript   []models.Transcript
	CreatedAt    time.Time
}

// Reporter accepts reports without blocking the caller
type Reporter interface {
	Dispatch(report Report)
}

type Config struct {
	Store    Store
	Judge    Judge
	Reporter Reporter
	TruthSet string
	Rubric   Rubric
	Logger   *slog.Logger
}

type Orchestrator struct {
	store    Store
	judge    Judge
	reporter Reporter
	truthSet string
	rubric   Rubric
	logger   *slog.Logger
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Rubric == nil {
		cfg.Rubric = DefaultRubric
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		store:    cfg.Store,
		judge:    cfg.Judge,
		reporter: cfg.Reporter,
		truthSet: cfg.TruthSet,
		rubric:   cfg.Rubric,
		logger:   cfg.Logger,
	}
}

// Score grades the simulation, stores score and feedback, and queues the report.
// Scoring the same simulation again overwrites the previous result.
func (o *Orchestrator) Score(ctx context.Context, simulationID uint) (*models.Simulation, error) {
	if o.judge == nil {
		return nil, errors.New("no scoring model configured")
	}

	sim, err := o.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return nil, err
	}

	turns, err := o.store.GetTranscripts(ctx, simulationID)
	if err != nil {
		return nil, err
	}

	raw, err := o.judge.Judge(ctx, Request{
		Transcript: FormatTranscript(turns),
		TruthSet:   o.truthSet,
		Rubric:     o.rubric,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score simulation: %w", err)
	}

	feedback := normalize(raw, len(o.rubric), o.logger.With("simulation_id", simulationID))

	scored, err := o.store.UpdateSimulationScore(ctx, simulationID, feedback.TotalScore, feedback)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Simulation scored",
		"simulation_id", simulationID,
		"score", feedback.TotalScore,
		"turns", len(turns),
	)

	if o.reporter != nil {
		o.reporter.Dispatch(Report{
			SimulationID: scored.ID,
			UserName:     sim.UserName,
			Score:        feedback.TotalScore,
			Feedback:     feedback,
			Transcript:   turns,
			CreatedAt:    scored.CreatedAt,
		})
	}

	return scored, nil
}
