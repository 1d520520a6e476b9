package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/addressbot/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderAnthropic  = "anthropic"
)

// DefaultProvider is used when agents.defaults.provider is empty.
const DefaultProvider = ProviderGemini

const authModeAPIKey = "api_key"

// Spec describes one provider backend. Every backend authenticates with a
// single API key, so validation and credential reporting are shared.
type Spec struct {
	Name    string
	KeyPath string
	KeyEnv  string
	APIKey  func(cfg *config.Config) string
	Build   func(cfg *config.Config) (LLMProvider, error)
}

func (s Spec) key(cfg *config.Config) string {
	if cfg == nil || s.APIKey == nil {
		return ""
	}
	return strings.TrimSpace(s.APIKey(cfg))
}

func (s Spec) validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if s.key(cfg) == "" {
		return fmt.Errorf("%s API key is required (set %s or %s)", s.Name, s.KeyPath, s.KeyEnv)
	}
	return nil
}

var (
	specMu          sync.RWMutex
	specs           = map[string]Spec{}
	registrationErr error
)

// Register adds a backend. It is called from init, so problems are kept
// and reported by the first lookup instead of panicking.
func Register(spec Spec) {
	name := NormalizeProviderName(spec.Name)
	specMu.Lock()
	defer specMu.Unlock()
	if spec.Build == nil {
		registrationErr = errors.Join(registrationErr, fmt.Errorf("providers: %s has no build func", name))
		return
	}
	if _, dup := specs[name]; dup {
		registrationErr = errors.Join(registrationErr, fmt.Errorf("providers: %s registered twice", name))
		return
	}
	spec.Name = name
	specs[name] = spec
}

func SupportedProviders() []string {
	specMu.RLock()
	defer specMu.RUnlock()
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultProvider
	}
	return name
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return DefaultProvider
	}
	return NormalizeProviderName(cfg.Agents.Defaults.Provider)
}

func ValidateProviderConfig(cfg *config.Config) error {
	spec, err := lookup(cfg)
	if err != nil {
		return err
	}
	return spec.validate(cfg)
}

// ProviderCredentialStatus reports which backend is active and whether its
// key is set, without building a client.
func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	spec, err := lookup(cfg)
	if err != nil {
		return ActiveProviderName(cfg), false, "", err
	}
	if spec.key(cfg) == "" {
		return spec.Name, false, "", nil
	}
	return spec.Name, true, authModeAPIKey, nil
}

func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	spec, err := lookup(cfg)
	if err != nil {
		return nil, err
	}
	if err := spec.validate(cfg); err != nil {
		return nil, err
	}
	provider, err := spec.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", spec.Name, err)
	}
	return provider, nil
}

func lookup(cfg *config.Config) (Spec, error) {
	name := ActiveProviderName(cfg)

	specMu.RLock()
	defer specMu.RUnlock()
	if registrationErr != nil {
		return Spec{}, fmt.Errorf("provider registration failed: %w", registrationErr)
	}
	spec, ok := specs[name]
	if !ok {
		supported := make([]string, 0, len(specs))
		for n := range specs {
			supported = append(supported, n)
		}
		sort.Strings(supported)
		return Spec{}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(supported, ", "))
	}
	return spec, nil
}

// requestOptions are the generation knobs every backend understands.
type requestOptions struct {
	MaxTokens   int
	Temperature *float64
}

func parseOptions(opts map[string]interface{}) requestOptions {
	var out requestOptions
	switch v := opts["max_tokens"].(type) {
	case int:
		out.MaxTokens = v
	case int32:
		out.MaxTokens = int(v)
	case int64:
		out.MaxTokens = int(v)
	case float64:
		out.MaxTokens = int(v)
	}
	switch v := opts["temperature"].(type) {
	case float64:
		out.Temperature = &v
	case float32:
		t := float64(v)
		out.Temperature = &t
	case int:
		t := float64(v)
		out.Temperature = &t
	}
	return out
}
