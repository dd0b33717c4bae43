package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ollama-chat/internal/app"
	"ollama-chat/internal/config"
	"ollama-chat/internal/llm"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewRootCommand builds the ollama-chat command tree. Flags take precedence
// over the environment and the .env file.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:     "ollama-chat",
		Short:   "Chat with models served by a local Ollama instance",
		Long:    "ollama-chat keeps a bounded history of conversations with local Ollama models and exposes them through a terminal chat and an HTTP bridge.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.v)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			app.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			app.LogConfigSource(opts.v)
			return nil
		},
		SilenceUsage: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.String("ollama-url", "", "Ollama base URL (env OLLAMA_URL)")
	flags.String("model", "", "default model for new settings (env DEFAULT_MODEL)")
	flags.String("store", "", "history store: sqlite, redis, pebble or memory (env STORE_DRIVER)")
	flags.String("log-level", "", "DEBUG, INFO, WARN or ERROR (env LOG_LEVEL)")
	for key, name := range map[string]string{
		"OLLAMA_URL":    "ollama-url",
		"DEFAULT_MODEL": "model",
		"STORE_DRIVER":  "store",
		"LOG_LEVEL":     "log-level",
	} {
		_ = opts.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(
		newServeCommand(opts),
		newChatCommand(opts),
		newModelsCommand(opts),
		newPullCommand(opts),
		newStatusCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.Run(ctx)
		},
	}
}

func newChatCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") && os.Getenv("LOG_LEVEL") == "" {
				// Keep routine logs out of the conversation.
				app.SetupLogger(cmd.ErrOrStderr(), "WARN", opts.cfg.LogFormat)
			}

			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			defer func() { _ = a.Close(context.Background()) }()

			if err := a.Start(ctx); err != nil {
				return err
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)

			return NewREPL(a.Chat, a.History, a.Status, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx, interrupts)
		},
	}
}

func newModelsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List locally installed models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			models, err := a.Models.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintln(out, "No models installed.")
				return nil
			}
			for _, m := range models {
				fmt.Fprintln(out, m)
			}
			return nil
		},
	}
}

func newPullCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model into Ollama",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			progress := make(chan llm.Progress)
			done := make(chan struct{})
			out := cmd.OutOrStdout()
			go func() {
				defer close(done)
				for p := range progress {
					if p.Percent != nil {
						fmt.Fprintf(out, "%s %.0f%%\n", p.Message, *p.Percent)
					} else {
						fmt.Fprintln(out, p.Message)
					}
				}
			}()

			err = a.Models.Pull(ctx, &llm.PullModelRequest{Name: args[0]}, progress)
			<-done
			if err != nil {
				return fmt.Errorf("pull %s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the Ollama server once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			st := a.Status.CheckStatus(cmd.Context())
			writeStatus(cmd.OutOrStdout(), st)
			if !st.Reachable {
				return fmt.Errorf("ollama is not reachable at %s", opts.cfg.OllamaURL)
			}
			return nil
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List saved conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(opts.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			saved := a.History.LoadAll(cmd.Context())
			if len(saved) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved conversations.")
				return nil
			}
			writeHistory(cmd.OutOrStdout(), saved)
			return nil
		},
	}
}
