package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotsetgreg/dotchat/pkg/config"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "dotchat",
		Short: "Terminal AI chat with tool calling and conversation memory",
		Long: strings.TrimSpace(`dotchat is a conversational runtime for the terminal.

Use CLI commands to initialize configuration, run interactive chat
sessions, or send a single message and print the reply.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().String("config", defaultConfigPath(), "Path to the config file")

	root.AddCommand(newInitCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newSendCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func configPathFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaultConfigPath()
	}
	return path
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPathFlag(cmd)
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Set your provider API key there or via DOTCHAT_PROVIDERS_* environment variables.")
			return nil
		},
	}
}

func newChatCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPathFlag(cmd))
			if err != nil {
				return err
			}
			defer rt.close()

			if model != "" {
				if err := rt.orchestrator.SetModel(model); err != nil {
					return err
				}
			}
			return interactiveChat(rt)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id to use for this session")
	return cmd
}

func newSendCommand() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(configPathFlag(cmd))
			if err != nil {
				return err
			}
			defer rt.close()

			if model != "" {
				if err := rt.orchestrator.SetModel(model); err != nil {
					return err
				}
			}

			reply, err := rt.orchestrator.SendMessage(context.Background(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id to use for this message")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
