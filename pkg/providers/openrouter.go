package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/addressbot/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "google/gemini-2.5-flash"

	openRouterTimeout  = 120 * time.Second
	maxErrorBodyLength = 2000
)

func init() {
	Register(Spec{
		Name:    ProviderOpenRouter,
		KeyPath: "providers.openrouter.api_key",
		KeyEnv:  "ADDRESSBOT_PROVIDERS_OPENROUTER_API_KEY",
		APIKey:  func(cfg *config.Config) string { return cfg.Providers.OpenRouter.APIKey },
		Build:   newOpenRouterProvider,
	})
}

// APIError is a non-2xx answer from an HTTP provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.Provider, e.Status, e.Message)
}

type openRouterProvider struct {
	endpoint     string
	apiKey       string
	defaultModel string
	client       *http.Client
}

type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *UsageInfo `json:"usage"`
}

func newOpenRouterProvider(cfg *config.Config) (LLMProvider, error) {
	or := cfg.Providers.OpenRouter
	apiBase := strings.TrimRight(strings.TrimSpace(or.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultOpenRouterAPIBase
	}

	client := &http.Client{Timeout: openRouterTimeout}
	if proxy := strings.TrimSpace(or.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse openrouter proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &openRouterProvider{
		endpoint:     apiBase + "/chat/completions",
		apiKey:       strings.TrimSpace(or.APIKey),
		defaultModel: defaultOpenRouterModel,
		client:       client,
	}, nil
}

func (p *openRouterProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}
	opts := parseOptions(options)

	payload, err := json.Marshal(chatCompletionsRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal openrouter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create openrouter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-Title", "AddressBot")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send openrouter request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openrouter response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{Provider: ProviderOpenRouter, Status: resp.StatusCode, Message: errorMessage(body)}
	}

	var decoded chatCompletionsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse openrouter response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop", Usage: decoded.Usage}, nil
	}
	choice := decoded.Choices[0]
	return &LLMResponse{
		Content:      contentText(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage:        decoded.Usage,
	}, nil
}

func (p *openRouterProvider) GetDefaultModel() string {
	return p.defaultModel
}

// contentText accepts both the plain string form and the array-of-parts form
// of a chat completion message.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func errorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > maxErrorBodyLength {
		return trimmed[:maxErrorBodyLength] + "..."
	}
	return trimmed
}
