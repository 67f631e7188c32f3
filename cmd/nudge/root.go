package main

import "github.com/spf13/cobra"

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configPath  string
	promptsPath string
	debug       bool
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "nudge",
		Short:         "Proactive messaging scheduler for Feishu chats",
		Long:          "nudge watches subscribed Feishu chats and sends idle follow-ups, daily greetings and reminders through a configured language model.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file (nudge.yaml), overrides NUDGE_CONFIG")
	flags.StringVar(&opts.promptsPath, "prompts", "", "prompt templates file (prompts.yaml), overrides PROMPTS_CONFIG_PATH")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logs")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newTickCmd(opts),
		newMCPCmd(opts),
	)
	return rootCmd
}
