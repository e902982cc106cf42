package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/scoring"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	replyMaxTokens = 1024
	judgeMaxTokens = 4096
)

// GeminiService plays the physician and grades finished conversations
type GeminiService struct {
	genaiClient *genai.Client
	model       string
	persona     string
	policy      retryPolicy
}

func NewGeminiService(ctx context.Context, apiKey, model, persona string, policy retryPolicy) (*GeminiService, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiService{
		genaiClient: genaiClient,
		model:       model,
		persona:     persona,
		policy:      policy,
	}, nil
}

// Reply generates the physician's next line
func (g *GeminiService) Reply(ctx context.Context, history []models.ChatMessage) (string, error) {
	contents := buildGeminiContents(history)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.persona, genai.RoleUser),
		MaxOutputTokens:   replyMaxTokens,
	}

	reply, err := callWithRetry(ctx, g.policy, "reply", func(ctx context.Context) (string, error) {
		result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return "", fmt.Errorf("failed to generate response: %w", err)
		}
		return result.Text(), nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("Generated persona reply", "model", g.model, "turns", len(history), "response_length", len(reply))
	return reply, nil
}

// Judge grades a conversation and returns the raw JSON text
func (g *GeminiService) Judge(ctx context.Context, req scoring.Request) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(scoring.SystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		MaxOutputTokens:   judgeMaxTokens,
	}
	prompt := scoring.BuildPrompt(req)

	return callWithRetry(ctx, g.policy, "score", func(ctx context.Context) (string, error) {
		result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
		if err != nil {
			return "", fmt.Errorf("failed to score conversation: %w", err)
		}
		return result.Text(), nil
	})
}

func buildGeminiContents(history []models.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		var role genai.Role = genai.RoleUser
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}
