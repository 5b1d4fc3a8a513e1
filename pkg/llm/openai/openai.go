package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fixwise/manualiq/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider implements llm.Provider against an OpenAI-compatible endpoint.
// Sampling parameters are fixed: the pipeline never varies them per request.
type Provider struct {
	client      *openai.Client
	model       string
	temperature float64
	topP        float64
	maxTokens   int64
}

// New creates a Provider for the given chat model.
func New(model string, opts ...option.RequestOption) *Provider {
	client := openai.NewClient(opts...)
	return &Provider{
		client:      &client,
		model:       model,
		temperature: 0.8,
		topP:        1,
		maxTokens:   1024,
	}
}

// Chat submits the message sequence as a single chat completion call.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	oaMessages, err := buildMessages(messages)
	if err != nil {
		return "", err
	}

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    oaMessages,
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
		TopP:        openai.Float(p.topP),
		MaxTokens:   openai.Int(p.maxTokens),
	})
	if err != nil {
		return "", p.classify(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// ListModels returns the model identifiers available to this account.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Healthy issues a one-token completion against the configured model.
func (p *Provider) Healthy(ctx context.Context) error {
	_, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("Test")},
		Model:     p.model,
		MaxTokens: openai.Int(1),
	})
	return err
}

// classify maps API-level failures to the llm sentinel errors. A 404 is
// enriched with the currently available model list to aid diagnosis.
func (p *Provider) classify(ctx context.Context, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusNotFound:
			detail := fmt.Sprintf("model %q not found or not available for your account", p.model)
			if models, listErr := p.ListModels(ctx); listErr == nil && len(models) > 0 {
				if len(models) > 10 {
					models = models[:10]
				}
				detail += "; available models include: " + strings.Join(models, ", ")
			}
			return fmt.Errorf("%s: %w", detail, llm.ErrModelNotFound)
		case http.StatusUnauthorized:
			return fmt.Errorf("check your API key: %w", llm.ErrUnauthorized)
		case http.StatusForbidden:
			return fmt.Errorf("check your account permissions: %w", llm.ErrForbidden)
		}
	}
	return fmt.Errorf("chat completion failed: %w", err)
}

func buildMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	oaMessages := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			oaMessages[i] = openai.SystemMessage(msg.Content)
		case llm.RoleUser:
			oaMessages[i] = openai.UserMessage(msg.Content)
		case llm.RoleAssistant:
			oaMessages[i] = openai.AssistantMessage(msg.Content)
		default:
			return nil, fmt.Errorf("unknown role: %s", msg.Role)
		}
	}
	return oaMessages, nil
}
