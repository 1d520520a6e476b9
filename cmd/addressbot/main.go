// AddressBot - addressee-aware conversation bot for shared chat channels
// License: MIT
//
// Copyright (c) 2026 AddressBot contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/addressbot/pkg/accounts"
	"github.com/dotsetgreg/addressbot/pkg/agent"
	"github.com/dotsetgreg/addressbot/pkg/bus"
	"github.com/dotsetgreg/addressbot/pkg/channels"
	"github.com/dotsetgreg/addressbot/pkg/config"
	"github.com/dotsetgreg/addressbot/pkg/knowledge"
	"github.com/dotsetgreg/addressbot/pkg/logger"
	"github.com/dotsetgreg/addressbot/pkg/providers"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const (
	appName = "addressbot"

	configPathEnv = "ADDRESSBOT_CONFIG"
)

const knowledgeTemplate = `# Persona and reference notes used to ground answers.
persona: |
  디스코드 서버에서 같이 게임하는 친구. 반말로 짧게 대답한다.
style_lines:
  - 질문에 바로 답하고 설명은 붙이지 않는다
  - 모르면 모른다고 한다
topics: {}
`

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".addressbot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func setupLogging(cfg *config.Config, debug bool) {
	logger.SetJSON(cfg.Log.JSON)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return fmt.Errorf("%s: %w", configPath, err)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or ADDRESSBOT_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

func runOnboard(in io.Reader, out io.Writer, force bool) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		response, readErr := bufio.NewReader(in).ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read input: %w", readErr)
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	knowledgePath := cfg.KnowledgePath()
	if _, err := os.Stat(knowledgePath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(knowledgePath), 0o755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		if err := os.WriteFile(knowledgePath, []byte(knowledgeTemplate), 0o644); err != nil {
			return fmt.Errorf("write knowledge template: %w", err)
		}
	}

	fmt.Fprintf(out, "%s is ready!\n", appName)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Add a provider API key to", configPath)
	fmt.Fprintf(out, "     Supported providers: %s\n", strings.Join(providers.SupportedProviders(), ", "))
	fmt.Fprintln(out, "  2. Edit the persona and topics in", knowledgePath)
	fmt.Fprintln(out, "  3. (Gateway mode) Add your Discord bot token to channels.discord.token")
	fmt.Fprintln(out, "  4. Try it locally: addressbot console")
	fmt.Fprintln(out, "  5. Run gateway: addressbot gateway")
	return nil
}

func newLoop(cfg *config.Config, msgBus *bus.MessageBus) (*agent.AgentLoop, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	agentLoop, err := agent.NewAgentLoop(cfg, msgBus, provider)
	if err != nil {
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	logger.InfoCF("agent", "Agent initialized", agentLoop.GetStartupInfo())
	return agentLoop, nil
}

func runConsole(speaker, message string, debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg, debug)
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	agentLoop, err := newLoop(cfg, msgBus)
	if err != nil {
		return err
	}
	defer agentLoop.Close()

	if strings.TrimSpace(message) != "" {
		name, text := splitSpeaker(message, speaker)
		reply, _ := agentLoop.ProcessDirect(context.Background(), name, text)
		printReply(os.Stdout, cfg.Conversation.BotName, reply)
		return nil
	}

	fmt.Printf("%s console (Ctrl+C to exit). Type \"name: message\" to speak as someone else.\n\n", appName)
	return interactiveMode(agentLoop, cfg.Conversation.BotName, speaker)
}

// splitSpeaker reads "name: text" so one console can play several
// participants. Lines without a name prefix belong to fallback.
func splitSpeaker(line, fallback string) (string, string) {
	name, text, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fallback, strings.TrimSpace(line)
	}
	return name, strings.TrimSpace(text)
}

func printReply(w io.Writer, botName, reply string) {
	if reply == "" {
		fmt.Fprintln(w, "  (silent)")
		return
	}
	fmt.Fprintf(w, "%s: %s\n", botName, reply)
}

func interactiveMode(agentLoop *agent.AgentLoop, botName, speaker string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".addressbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		return simpleInteractiveMode(agentLoop, botName, speaker)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleConsoleLine(agentLoop, botName, speaker, line); done {
			return nil
		}
	}
}

func simpleInteractiveMode(agentLoop *agent.AgentLoop, botName, speaker string) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if done := handleConsoleLine(agentLoop, botName, speaker, line); done {
			return nil
		}
	}
}

func handleConsoleLine(agentLoop *agent.AgentLoop, botName, speaker, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return true
	}

	name, text := splitSpeaker(input, speaker)
	reply, _ := agentLoop.ProcessDirect(context.Background(), name, text)
	printReply(os.Stdout, botName, reply)
	return false
}

func runGateway(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg, debug)
	if err := validateRuntimeConfig(cfg, true); err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	agentLoop, err := newLoop(cfg, msgBus)
	if err != nil {
		return err
	}
	defer agentLoop.Close()

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	if discord, ok := channelManager.Discord(); ok {
		agentLoop.Engine().SetStatusNotifier(discord)
		discord.SetCanceller(agentLoop.Engine().Registry())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.Enabled(), ", "))
	fmt.Println("Press Ctrl+C to stop")

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := agentLoop.Run(ctx); err != nil {
			logger.ErrorCF("agent", "Agent loop stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	agentLoop.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.WarnC("agent", "Timed out waiting for in-flight sessions")
	}
	if err := channelManager.StopAll(shutdownCtx); err != nil {
		logger.WarnCF("channels", "Error stopping channels", map[string]interface{}{"error": err.Error()})
	}
	msgBus.Close()
	fmt.Println("✓ Gateway stopped")
	return nil
}

func runStatus(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := getConfigPath()
	mark := func(ok bool, missing string) string {
		if ok {
			return "✓"
		}
		return missing
	}

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	fmt.Fprintln(out)

	_, statErr := os.Stat(configPath)
	fmt.Fprintln(out, "Config:", configPath, mark(statErr == nil, "✗"))

	kb, err := knowledge.Load(cfg.KnowledgePath())
	if err != nil {
		fmt.Fprintln(out, "Knowledge:", cfg.KnowledgePath(), "✗", err)
	} else {
		fmt.Fprintf(out, "Knowledge: %s (%d topics)\n", cfg.KnowledgePath(), len(kb.Keys()))
	}

	dbPath := cfg.AccountsDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintln(out, "Accounts DB:", dbPath, "not initialized")
	} else if store, err := accounts.Open(dbPath, cfg.Accounts.CacheSize); err != nil {
		fmt.Fprintln(out, "Accounts DB:", dbPath, "✗", err)
	} else {
		count, countErr := store.Count(context.Background())
		_ = store.Close()
		if countErr != nil {
			fmt.Fprintln(out, "Accounts DB:", dbPath, "✗", countErr)
		} else {
			fmt.Fprintf(out, "Accounts DB: %s (%d nicknames)\n", dbPath, count)
		}
	}

	provider, configured, mode, err := providers.ProviderCredentialStatus(cfg)
	if err != nil {
		fmt.Fprintln(out, "Provider:", err)
	} else {
		fmt.Fprintf(out, "Provider: %s %s", provider, mark(configured, "not set"))
		if mode != "" {
			fmt.Fprintf(out, " (%s)", mode)
		}
		fmt.Fprintln(out)
	}
	if model := strings.TrimSpace(cfg.Agents.Defaults.Model); model != "" {
		fmt.Fprintf(out, "Model: %s\n", model)
	}

	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	fmt.Fprintln(out, "Discord token:", mark(discordReady, "not set"))
	fmt.Fprintln(out, "Console ready:", mark(configured, "not set"))
	fmt.Fprintln(out, "Gateway ready:", mark(configured && discordReady, "not set"))
	return nil
}
