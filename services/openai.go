package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/scoring"
	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "gpt-4o"

// OpenAIService is the alternate language model and speech provider
type OpenAIService struct {
	client  *openai.Client
	model   string
	persona string
	policy  retryPolicy
}

func NewOpenAIService(apiKey, baseURL, model, persona string, policy retryPolicy) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIService{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		persona: persona,
		policy:  policy,
	}
}

// Reply generates the physician's next line
func (o *OpenAIService) Reply(ctx context.Context, history []models.ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: o.persona,
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	reply, err := callWithRetry(ctx, o.policy, "reply", func(ctx context.Context) (string, error) {
		return o.complete(ctx, openai.ChatCompletionRequest{
			Model:     o.model,
			Messages:  messages,
			MaxTokens: replyMaxTokens,
		})
	})
	if err != nil {
		return "", err
	}

	slog.Info("Generated persona reply", "model", o.model, "turns", len(history), "response_length", len(reply))
	return reply, nil
}

// Judge grades a conversation and returns the raw JSON text
func (o *OpenAIService) Judge(ctx context.Context, req scoring.Request) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scoring.SystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: scoring.BuildPrompt(req)},
		},
		MaxTokens: judgeMaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	return callWithRetry(ctx, o.policy, "score", func(ctx context.Context) (string, error) {
		return o.complete(ctx, request)
	})
}

func (o *OpenAIService) complete(ctx context.Context, request openai.ChatCompletionRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Synthesize renders text with OpenAI speech
func (o *OpenAIService) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = defaultOpenAIVoice
	}

	body, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speech: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read speech: %w", err)
	}

	slog.Info("Generated audio from OpenAI", "text_length", len(text), "bytes", len(data))
	return data, nil
}
