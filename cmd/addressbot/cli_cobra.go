package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "addressbot",
		Short: "Discord bot that answers only when it is the one being addressed",
		Long: strings.TrimSpace(`addressbot watches shared chat channels and decides, message by message,
whether it is being spoken to. It answers when called, asks a short
clarifying question when unsure, and otherwise stays out of the conversation.

Use CLI commands to onboard, try the bot in a local console, run the Discord
gateway, and check readiness.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

func newOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.addressbot config and knowledge template",
		Long:    "Create a default configuration and a starter knowledge file for a new addressbot installation.",
		Example: "  addressbot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(os.Stdin, cmd.OutOrStdout(), force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")
	return cmd
}

func newConsoleCommand() *cobra.Command {
	var (
		message string
		speaker string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"agent"},
		Short:   "Talk to the bot locally without Discord",
		Long: strings.TrimSpace(`Run the same addressee detection and answering pipeline against a local
console channel. Prefix a line with "name:" to speak as another participant.`),
		Example: strings.Join([]string{
			"  addressbot console",
			"  addressbot console --speaker 철수",
			"  addressbot console --message \"영희: 이리와 뭐해\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(speaker, message, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot line to send, optionally prefixed with \"name:\"")
	cmd.Flags().StringVarP(&speaker, "speaker", "s", "local-user", "Default speaker name for lines without a prefix")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway",
		Long:    "Connect to Discord, route command and chat channels, and answer messages addressed to the bot.",
		Example: "  addressbot gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, provider, and storage readiness",
		Example: "  addressbot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  addressbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
