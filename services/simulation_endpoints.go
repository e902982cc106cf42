package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/repository"
	"github.com/conecoach/backend/turn"
	"github.com/go-chi/chi/v5"
)

const leaderboardSize = 10

// SimulationScorer grades a simulation and returns it with score and feedback set
type SimulationScorer interface {
	Score(ctx context.Context, simulationID uint) (*models.Simulation, error)
}

type SimulationEndpoints struct {
	repo         *repository.GORMRepository
	conversation *turn.Conversation
	scorer       SimulationScorer
	auth         *AuthService
}

func NewSimulationEndpoints(repo *repository.GORMRepository, conversation *turn.Conversation, scorer SimulationScorer, auth *AuthService) *SimulationEndpoints {
	return &SimulationEndpoints{
		repo:         repo,
		conversation: conversation,
		scorer:       scorer,
		auth:         auth,
	}
}

type CreateSimulationRequest struct {
	UserName string `json:"userName"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Message string `json:"message"`
}

type SimulationDetailResponse struct {
	Simulation  *models.Simulation  `json:"simulation"`
	Transcripts []models.Transcript `json:"transcripts"`
}

func (e *SimulationEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/simulations", func(r chi.Router) {
		r.Post("/", e.CreateSimulationHandler)
		r.Get("/top10", e.TopSimulationsHandler)

		r.Group(func(r chi.Router) {
			r.Use(e.auth.Middleware)
			r.Get("/", e.ListSimulationsHandler)
			r.Get("/export", e.ExportSimulationsHandler)
		})

		r.Get("/{id}", e.GetSimulationHandler)
		r.Post("/{id}/chat", e.ChatHandler)
		r.Post("/{id}/score", e.ScoreHandler)
	})
}

func (e *SimulationEndpoints) CreateSimulationHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.UserName)
	if name == "" {
		writeError(w, invalid("userName is required"), http.StatusBadRequest, "")
		return
	}

	sim, err := e.repo.CreateSimulation(r.Context(), name, Greeting)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to create simulation")
		return
	}
	turnsTotal.WithLabelValues(models.RoleAssistant).Inc()

	writeJSON(w, http.StatusCreated, sim)
}

func (e *SimulationEndpoints) GetSimulationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := simulationID(r)
	if err != nil {
		writeError(w, err, http.StatusNotFound, "Simulation not found")
		return
	}

	sim, err := e.repo.GetSimulation(r.Context(), id)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError, "Failed to get simulation")
		return
	}

	transcripts, err := e.repo.GetTranscripts(r.Context(), id)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError, "Failed to get transcripts")
		return
	}

	writeJSON(w, http.StatusOK, SimulationDetailResponse{Simulation: sim, Transcripts: transcripts})
}

// ChatHandler is the text path of a turn: the user line is stored before the
// model is asked, so it survives a failed reply.
func (e *SimulationEndpoints) ChatHandler(w http.ResponseWriter, r *http.Request) {
	id, err := simulationID(r)
	if err != nil {
		writeError(w, err, http.StatusNotFound, "Simulation not found")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := e.repo.GetSimulation(r.Context(), id); err != nil {
		writeError(w, err, http.StatusInternalServerError, "Failed to get simulation")
		return
	}

	if _, err := e.conversation.AppendUser(r.Context(), id, req.Message); err != nil {
		if errors.Is(err, turn.ErrEmptyUtterance) {
			writeError(w, invalid("message is required"), http.StatusBadRequest, "")
			return
		}
		writeError(w, err, http.StatusInternalServerError, "Failed to save message")
		return
	}
	turnsTotal.WithLabelValues(models.RoleUser).Inc()

	reply, err := e.conversation.Reply(r.Context(), id)
	if err != nil {
		slog.Error("Failed to generate reply", "error", err, "simulation_id", id)
		writeError(w, err, http.StatusBadGateway, "Failed to generate response")
		return
	}
	turnsTotal.WithLabelValues(models.RoleAssistant).Inc()

	writeJSON(w, http.StatusOK, ChatResponse{Message: reply.Content})
}

func (e *SimulationEndpoints) ScoreHandler(w http.ResponseWriter, r *http.Request) {
	id, err := simulationID(r)
	if err != nil {
		writeError(w, err, http.StatusNotFound, "Simulation not found")
		return
	}

	sim, err := e.scorer.Score(r.Context(), id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("Failed to score simulation", "error", err, "simulation_id", id)
		}
		writeError(w, err, http.StatusBadGateway, "Failed to score simulation")
		return
	}

	writeJSON(w, http.StatusOK, sim)
}

func (e *SimulationEndpoints) ListSimulationsHandler(w http.ResponseWriter, r *http.Request) {
	sims, err := e.repo.ListSimulations(r.Context())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to list simulations")
		return
	}
	writeJSON(w, http.StatusOK, sims)
}

func (e *SimulationEndpoints) ExportSimulationsHandler(w http.ResponseWriter, r *http.Request) {
	sims, err := e.repo.ListSimulationsWithTranscripts(r.Context())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to export simulations")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="simulations.json"`)
	writeJSON(w, http.StatusOK, sims)
}

func (e *SimulationEndpoints) TopSimulationsHandler(w http.ResponseWriter, r *http.Request) {
	sims, err := e.repo.TopSimulations(r.Context(), leaderboardSize)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to get leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, sims)
}

// simulationID reads the {id} path parameter. Anything that is not a positive
// integer cannot name a simulation.
func simulationID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, repository.ErrNotFound
	}
	return uint(id), nil
}
