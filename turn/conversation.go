package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conecoach/backend/models"
)

const (
	// OpeningPlaceholder stands in for the rep's first move when the stored history
	// starts with the physician's greeting. It is only sent to the model, never stored.
	OpeningPlaceholder = "[Sales rep enters the office]"

	// FallbackReply is used when the model answers with nothing
	FallbackReply = "I didn't catch that. Could you repeat?"
)

var ErrEmptyUtterance = errors.New("utterance is empty")

// Store is the transcript log of a simulation
type Store interface {
	AddTranscript(ctx context.Context, turn *models.Transcript) error
	GetTranscripts(ctx context.Context, simulationID uint) ([]models.Transcript, error)
}

// Responder produces the physician's next line from the conversation so far
type Responder interface {
	Reply(ctx context.Context, history []models.ChatMessage) (string, error)
}

// Conversation appends turns and asks the model for replies
type Conversation struct {
	store     Store
	responder Responder
}

func NewConversation(store Store, responder Responder) *Conversation {
	return &Conversation{store: store, responder: responder}
}

// AppendUser stores what the rep said
func (c *Conversation) AppendUser(ctx context.Context, simulationID uint, text string) (*models.Transcript, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}
	return c.append(ctx, simulationID, models.RoleUser, text)
}

// AppendAssistant stores the physician's reply
func (c *Conversation) AppendAssistant(ctx context.Context, simulationID uint, text string) (*models.Transcript, error) {
	return c.append(ctx, simulationID, models.RoleAssistant, text)
}

func (c *Conversation) append(ctx context.Context, simulationID uint, role, text string) (*models.Transcript, error) {
	turn := &models.Transcript{
		SimulationID: simulationID,
		Role:         role,
		Content:      text,
	}
	if err := c.store.AddTranscript(ctx, turn); err != nil {
		return nil, err
	}
	return turn, nil
}

// Generate asks the model for the next reply given everything stored so far
func (c *Conversation) Generate(ctx context.Context, simulationID uint) (string, error) {
	if c.responder == nil {
		return "", errors.New("no language model configured")
	}

	history, err := c.store.GetTranscripts(ctx, simulationID)
	if err != nil {
		return "", err
	}

	reply, err := c.responder.Reply(ctx, BuildHistory(history))
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = FallbackReply
	}
	return reply, nil
}

// Reply generates the next physician line and stores it
func (c *Conversation) Reply(ctx context.Context, simulationID uint) (*models.Transcript, error) {
	reply, err := c.Generate(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	return c.AppendAssistant(ctx, simulationID, reply)
}

// Submit stores a user utterance, then replies to it
func (c *Conversation) Submit(ctx context.Context, simulationID uint, text string) (*models.Transcript, error) {
	if _, err := c.AppendUser(ctx, simulationID, text); err != nil {
		return nil, err
	}
	return c.Reply(ctx, simulationID)
}

// BuildHistory converts stored turns into model messages, keeping their order.
// The model needs the conversation to open with the rep, so a placeholder is
// prepended when the physician spoke first.
func BuildHistory(turns []models.Transcript) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(turns)+1)
	if len(turns) > 0 && turns[0].Role == models.RoleAssistant {
		messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: OpeningPlaceholder})
	}
	for _, t := range turns {
		messages = append(messages, models.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return messages
}
