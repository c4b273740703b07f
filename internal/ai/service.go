package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pulsecrm/delivery/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	rulesSystemPrompt = `You convert marketing audience descriptions into CRM segment rules.
Available fields: totalSpent, visits, lastVisit, createdAt.
Available operators: >, <, >=, <=, =, !=, days_ago.
Return ONLY a JSON array like [{"field":"totalSpent","operator":">","value":500,"logic":"AND"}].`

	messagesSystemPrompt = `You write short marketing messages for CRM campaigns.
Keep each message under 150 characters and include the placeholder {name}.
Vary the tone (urgent, friendly, exclusive) and end with a call to action.
Return ONLY a JSON array of 3 strings.`

	summarySystemPrompt = `You analyze marketing campaign results in 2-3 concise, actionable sentences.`
)

// Service runs prompts through a circuit breaker so a failing model stops
// being called for a while instead of slowing every request down.
type Service struct {
	llm      Completer
	cb       *gobreaker.CircuitBreaker[string]
	validate *validator.Validate
	log      *zap.Logger
}

func NewService(llm Completer, log *zap.Logger) *Service {
	if llm == nil {
		llm = disabled{}
	}
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "text-generation",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDisabled) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Service{llm: llm, cb: cb, validate: validator.New(), log: log}
}

// New builds the service for an OpenAI key, or a disabled one when the key is empty.
func New(apiKey, model string, log *zap.Logger) *Service {
	if apiKey == "" {
		return NewService(nil, log)
	}
	return NewService(NewOpenAICompleter(OpenAIConfig{APIKey: apiKey, Model: model}, log), log)
}

func (s *Service) complete(ctx context.Context, system, prompt string) (string, error) {
	return s.cb.Execute(func() (string, error) {
		return s.llm.Complete(ctx, system, prompt)
	})
}

// Summarize describes a finished campaign's performance.
func (s *Service) Summarize(ctx context.Context, campaignName string, sent, failed, audienceSize int) (string, error) {
	rate := 0.0
	if audienceSize > 0 {
		rate = float64(sent) / float64(audienceSize) * 100
	}
	prompt := fmt.Sprintf(`Campaign: %s
Total audience: %d
Messages sent: %d
Messages failed: %d
Success rate: %.1f%%
Assess the performance, likely reasons for failures and one improvement.`,
		campaignName, audienceSize, sent, failed, rate)

	text, err := s.complete(ctx, summarySystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// SuggestRules turns a natural language audience description into rules.
func (s *Service) SuggestRules(ctx context.Context, query string) ([]models.Rule, error) {
	text, err := s.complete(ctx, rulesSystemPrompt, fmt.Sprintf("Query: %q", query))
	if err != nil {
		return nil, err
	}
	raw, err := extractJSONArray(text)
	if err != nil {
		return nil, err
	}

	var rules []models.Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode suggested rules: %w", err)
	}
	for i, r := range rules {
		if err := s.validate.Struct(r); err != nil {
			return nil, fmt.Errorf("suggested rule %d: %w", i, err)
		}
	}
	return rules, nil
}

// GenerateMessages returns message variants using the {customerName} placeholder.
func (s *Service) GenerateMessages(ctx context.Context, objective, audience string) ([]string, error) {
	prompt := fmt.Sprintf("Campaign objective: %s\nTarget audience: %s", objective, audience)
	text, err := s.complete(ctx, messagesSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSONArray(text)
	if err != nil {
		return nil, err
	}

	var messages []string
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode generated messages: %w", err)
	}
	for i, m := range messages {
		messages[i] = strings.ReplaceAll(m, "{name}", "{customerName}")
	}
	return messages, nil
}

// extractJSONArray cuts the outermost JSON array out of a model reply that may
// wrap it in prose or code fences.
func extractJSONArray(text string) ([]byte, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in model response")
	}
	return []byte(text[start : end+1]), nil
}
