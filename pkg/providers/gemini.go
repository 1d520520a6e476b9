package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/addressbot/pkg/config"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

func init() {
	Register(Spec{
		Name:    ProviderGemini,
		KeyPath: "providers.gemini.api_key",
		KeyEnv:  "ADDRESSBOT_PROVIDERS_GEMINI_API_KEY",
		APIKey:  func(cfg *config.Config) string { return cfg.Providers.Gemini.APIKey },
		Build:   newGeminiProvider,
	})
}

// geminiModels is the slice of *genai.Models the provider needs.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiProvider struct {
	models       geminiModels
	defaultModel string
}

func newGeminiProvider(cfg *config.Config) (LLMProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.Providers.Gemini.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiProvider{models: client.Models, defaultModel: defaultGeminiModel}, nil
}

func (p *geminiProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.GetDefaultModel()
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini request has no content")
	}

	opts := parseOptions(options)
	genCfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		genCfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}

	resp, err := p.models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil {
		return &LLMResponse{Content: "", FinishReason: "stop"}, nil
	}

	out := &LLMResponse{Content: resp.Text()}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &UsageInfo{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *geminiProvider) GetDefaultModel() string {
	return p.defaultModel
}
