package grader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
)

// OpenAIConfig holds configuration for the oracle client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional; empty means the default OpenAI endpoint
	Timeout time.Duration
}

// DefaultOpenAIConfig returns default oracle client settings.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:   openai.GPT4oMini,
		Timeout: 30 * time.Second,
	}
}

// OpenAIClient implements Client against an OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a new oracle client.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultOpenAIConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Grade sends the prompt plus accumulated history to the oracle. Transport
// failures return the fallback result together with ErrUnreachable; contract
// violations in the body return the fallback with a nil error so the
// conversation stays usable. Both causes are logged for observability.
func (c *OpenAIClient) Grade(ctx context.Context, prompt string, history []domain.Message, mode string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: c.buildMessages(prompt, history, mode),
	})
	if err != nil {
		c.logger.Error("Oracle call failed", "error", err, "mode", mode)
		return Fallback(), fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn("Oracle returned no choices", "mode", mode)
		return Fallback(), nil
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("Oracle response violated grading contract", "error", err, "mode", mode)
		return Fallback(), nil
	}

	return result, nil
}

// buildMessages maps the ordered turn history onto chat messages. The fixed
// grader instruction goes first, the latest prompt last.
func (c *OpenAIClient) buildMessages(prompt string, history []domain.Message, mode string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemInstruction + " Evaluation mode: " + mode + ".",
	})

	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return messages
}

var _ Client = (*OpenAIClient)(nil)
