// Package ai is the text-generation collaborator: campaign performance
// summaries, natural language audience rules and message variants.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrDisabled is returned when no model is configured.
var ErrDisabled = errors.New("text generation disabled")

// Completer runs one system + user prompt against a language model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	log         *zap.Logger
}

func NewOpenAICompleter(cfg OpenAIConfig, log *zap.Logger) *OpenAICompleter {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &OpenAICompleter{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.log.Warn("openai completion failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return "", fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from openai")
	}

	c.log.Debug("openai completion",
		zap.Int("tokens", resp.Usage.TotalTokens), zap.Duration("duration", time.Since(start)))
	return resp.Choices[0].Message.Content, nil
}

// disabled is used when no API key is configured.
type disabled struct{}

func (disabled) Complete(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}
