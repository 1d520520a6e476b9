package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dotsetgreg/addressbot/pkg/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

func init() {
	Register(Spec{
		Name:    ProviderAnthropic,
		KeyPath: "providers.anthropic.api_key",
		KeyEnv:  "ADDRESSBOT_PROVIDERS_ANTHROPIC_API_KEY",
		APIKey:  func(cfg *config.Config) string { return cfg.Providers.Anthropic.APIKey },
		Build:   newAnthropicProvider,
	})
}

type anthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
}

func newAnthropicProvider(cfg *config.Config) (LLMProvider, error) {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.Providers.Anthropic.APIKey))}
	if base := strings.TrimSpace(cfg.Providers.Anthropic.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultAnthropicModel,
	}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.GetDefaultModel()
	}

	var system []anthropic.TextBlockParam
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.NewTextBlock(m.Content))
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("anthropic request has no messages")
	}

	opts := parseOptions(options)
	maxTokens := defaultAnthropicMaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(params),
	}
	if len(system) > 0 {
		req.System = anthropic.F(system)
	}
	if opts.Temperature != nil {
		req.Temperature = anthropic.F(*opts.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsUnion().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	return &LLMResponse{
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *anthropicProvider) GetDefaultModel() string {
	return p.defaultModel
}
