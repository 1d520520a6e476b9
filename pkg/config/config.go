package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so Discord snowflakes can be written as "123" or 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Contains reports whether id is listed. An empty slice contains nothing.
func (f FlexibleStringSlice) Contains(id string) bool {
	id = strings.TrimSpace(id)
	for _, v := range f {
		if strings.TrimSpace(v) == id {
			return true
		}
	}
	return false
}

type Config struct {
	Agents       AgentsConfig       `json:"agents"`
	Channels     ChannelsConfig     `json:"channels"`
	Providers    ProvidersConfig    `json:"providers"`
	Conversation ConversationConfig `json:"conversation"`
	Knowledge    KnowledgeConfig    `json:"knowledge"`
	Accounts     AccountsConfig     `json:"accounts"`
	Log          LogConfig          `json:"log"`
	mu           sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace   string  `json:"workspace" env:"ADDRESSBOT_AGENTS_DEFAULTS_WORKSPACE"`
	Provider    string  `json:"provider" env:"ADDRESSBOT_AGENTS_DEFAULTS_PROVIDER"`
	Model       string  `json:"model" env:"ADDRESSBOT_AGENTS_DEFAULTS_MODEL"`
	MaxTokens   int     `json:"max_tokens" env:"ADDRESSBOT_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"ADDRESSBOT_AGENTS_DEFAULTS_TEMPERATURE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token           string              `json:"token" env:"ADDRESSBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom       FlexibleStringSlice `json:"allow_from" env:"ADDRESSBOT_CHANNELS_DISCORD_ALLOW_FROM"`
	ChatChannels    FlexibleStringSlice `json:"chat_channels" env:"ADDRESSBOT_CHANNELS_DISCORD_CHAT_CHANNELS"`
	CommandChannels FlexibleStringSlice `json:"command_channels" env:"ADDRESSBOT_CHANNELS_DISCORD_COMMAND_CHANNELS"`
	CommandPrefix   string              `json:"command_prefix" env:"ADDRESSBOT_CHANNELS_DISCORD_COMMAND_PREFIX"`
	StatusText      string              `json:"status_text" env:"ADDRESSBOT_CHANNELS_DISCORD_STATUS_TEXT"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig  `json:"openrouter"`
	Gemini     GeminiConfig    `json:"gemini"`
	Anthropic  AnthropicConfig `json:"anthropic"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"ADDRESSBOT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"ADDRESSBOT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"ADDRESSBOT_PROVIDERS_OPENROUTER_PROXY"`
}

type GeminiConfig struct {
	APIKey string `json:"api_key" env:"ADDRESSBOT_PROVIDERS_GEMINI_API_KEY"`
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" env:"ADDRESSBOT_PROVIDERS_ANTHROPIC_API_KEY"`
	APIBase string `json:"api_base,omitempty" env:"ADDRESSBOT_PROVIDERS_ANTHROPIC_API_BASE"`
}

// ConversationConfig tunes addressee arbitration and the two history windows.
type ConversationConfig struct {
	BotName                  string              `json:"bot_name" env:"ADDRESSBOT_CONVERSATION_BOT_NAME"`
	Aliases                  FlexibleStringSlice `json:"aliases" env:"ADDRESSBOT_CONVERSATION_ALIASES"`
	ParticipantLabel         string              `json:"participant_label" env:"ADDRESSBOT_CONVERSATION_PARTICIPANT_LABEL"`
	ChannelMax               int                 `json:"channel_max" env:"ADDRESSBOT_CONVERSATION_CHANNEL_MAX"`
	ChannelTrim              int                 `json:"channel_trim" env:"ADDRESSBOT_CONVERSATION_CHANNEL_TRIM"`
	UserMax                  int                 `json:"user_max" env:"ADDRESSBOT_CONVERSATION_USER_MAX"`
	UserTrim                 int                 `json:"user_trim" env:"ADDRESSBOT_CONVERSATION_USER_TRIM"`
	CallContextTurns         int                 `json:"call_context_turns" env:"ADDRESSBOT_CONVERSATION_CALL_CONTEXT_TURNS"`
	ChatContextTurns         int                 `json:"chat_context_turns" env:"ADDRESSBOT_CONVERSATION_CHAT_CONTEXT_TURNS"`
	PollIntervalMS           int                 `json:"poll_interval_ms" env:"ADDRESSBOT_CONVERSATION_POLL_INTERVAL_MS"`
	CancelWindowSeconds      int                 `json:"cancel_window_seconds" env:"ADDRESSBOT_CONVERSATION_CANCEL_WINDOW_SECONDS"`
	GenerationTimeoutSeconds int                 `json:"generation_timeout_seconds" env:"ADDRESSBOT_CONVERSATION_GENERATION_TIMEOUT_SECONDS"`
	MaxConcurrent            int                 `json:"max_concurrent" env:"ADDRESSBOT_CONVERSATION_MAX_CONCURRENT"`
	FallbackAnswer           string              `json:"fallback_answer" env:"ADDRESSBOT_CONVERSATION_FALLBACK_ANSWER"`
	ErrorAnswer              string              `json:"error_answer" env:"ADDRESSBOT_CONVERSATION_ERROR_ANSWER"`
}

type KnowledgeConfig struct {
	Path     string `json:"path" env:"ADDRESSBOT_KNOWLEDGE_PATH"`
	MaxChars int    `json:"max_chars" env:"ADDRESSBOT_KNOWLEDGE_MAX_CHARS"`
}

type AccountsConfig struct {
	DBPath    string `json:"db_path" env:"ADDRESSBOT_ACCOUNTS_DB_PATH"`
	CacheSize int    `json:"cache_size" env:"ADDRESSBOT_ACCOUNTS_CACHE_SIZE"`
}

type LogConfig struct {
	Level string `json:"level" env:"ADDRESSBOT_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"ADDRESSBOT_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:   "~/.addressbot/workspace",
				Provider:    "gemini",
				Model:       "",
				MaxTokens:   1024,
				Temperature: 0.7,
			},
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:           "",
				AllowFrom:       FlexibleStringSlice{},
				ChatChannels:    FlexibleStringSlice{},
				CommandChannels: FlexibleStringSlice{},
				CommandPrefix:   "!",
				StatusText:      "이터널 리턴",
			},
		},
		Providers: ProvidersConfig{},
		Conversation: ConversationConfig{
			BotName:                  "이리와",
			Aliases:                  FlexibleStringSlice{"리와", "봇"},
			ParticipantLabel:         "유저",
			ChannelMax:               100,
			ChannelTrim:              20,
			UserMax:                  200,
			UserTrim:                 64,
			CallContextTurns:         25,
			ChatContextTurns:         16,
			PollIntervalMS:           500,
			CancelWindowSeconds:      30,
			GenerationTimeoutSeconds: 120,
			MaxConcurrent:            16,
			FallbackAnswer:           "몰라",
			ErrorAnswer:              "서버 오류거나 한도 다씀",
		},
		Knowledge: KnowledgeConfig{
			Path:     "",
			MaxChars: 24000,
		},
		Accounts: AccountsConfig{
			DBPath:    "",
			CacheSize: 512,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks the conversation tuning for values the history store and
// session runner cannot work with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	conv := c.Conversation
	var errs []error
	if strings.TrimSpace(conv.BotName) == "" {
		errs = append(errs, fmt.Errorf("conversation.bot_name is required"))
	}
	if conv.ChannelMax <= 0 || conv.ChannelTrim <= 0 || conv.ChannelTrim > conv.ChannelMax {
		errs = append(errs, fmt.Errorf("conversation.channel_trim must be in (0, channel_max], got trim=%d max=%d", conv.ChannelTrim, conv.ChannelMax))
	}
	if conv.UserMax <= 0 || conv.UserTrim <= 0 || conv.UserTrim > conv.UserMax {
		errs = append(errs, fmt.Errorf("conversation.user_trim must be in (0, user_max], got trim=%d max=%d", conv.UserTrim, conv.UserMax))
	}
	if conv.UserTrim%2 != 0 {
		errs = append(errs, fmt.Errorf("conversation.user_trim must be even so compaction keeps user/bot pairs, got %d", conv.UserTrim))
	}
	if conv.UserTrim < conv.ChatContextTurns*2 {
		errs = append(errs, fmt.Errorf("conversation.user_trim (%d) must hold the chat window of %d entries", conv.UserTrim, conv.ChatContextTurns*2))
	}
	if conv.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("conversation.poll_interval_ms must be positive"))
	}
	if conv.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_concurrent must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

// AccountsDBPath resolves the nickname database, defaulting into the workspace.
func (c *Config) AccountsDBPath() string {
	c.mu.RLock()
	path := strings.TrimSpace(c.Accounts.DBPath)
	c.mu.RUnlock()
	if path != "" {
		return expandHome(path)
	}
	return filepath.Join(c.WorkspacePath(), "state", "accounts.db")
}

// KnowledgePath resolves the grounding file, defaulting into the workspace.
func (c *Config) KnowledgePath() string {
	c.mu.RLock()
	path := strings.TrimSpace(c.Knowledge.Path)
	c.mu.RUnlock()
	if path != "" {
		return expandHome(path)
	}
	return filepath.Join(c.WorkspacePath(), "knowledge.yaml")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
