package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/arturo/pkg/arturo"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/orchestrator"
	"github.com/harunnryd/arturo/pkg/redact"
	"github.com/harunnryd/arturo/pkg/runner"
	"github.com/harunnryd/arturo/pkg/slicer"
)

type rootOptions struct {
	configPath string
	silent     bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "arturo",
		Short:         "Voice assistant for slicing and printing 3D models",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistant(cmd, opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the config file (yaml, json or toml)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newSliceCmd(opts))
	root.AddCommand(newToolsCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the assistant (default)",
		Long: `Start the assistant loop.
In voice mode the microphone is transcribed and answers are spoken.
In silent mode questions are typed and answers are printed; type "exit" to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssistant(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.silent, "silent", false, "Start in silent (text) mode")
	return cmd
}

func newSliceCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "slice <file>",
		Short: "Slice one model and print the result as JSON",
		Long: `Slice one model with the configured slicer.
The file may be a name in the model folder, an index from the model listing, or an absolute path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			ts := arturo.NewToolset(cfg, orchestrator.NewModeState(false, nil, logger), logger, metrics.NoopObserver{})
			res := ts.Slicer.Slice(cmd.Context(), args[0], output)
			fmt.Fprintln(cmd.OutOrStdout(), res.JSON())
			if res.Status != slicer.StatusSuccess {
				return errors.New("slicing failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Path of the generated G-code")
	return cmd
}

func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool schemas offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			ts := arturo.NewToolset(cfg, orchestrator.NewModeState(false, nil, logger), logger, metrics.NoopObserver{})
			reg, err := arturo.NewToolRegistry(cfg, ts, logger, metrics.NoopObserver{})
			if err != nil {
				return err
			}
			type schema struct {
				Name        string         `json:"name"`
				Description string         `json:"description"`
				Parameters  map[string]any `json:"parameters"`
			}
			var out []schema
			for _, t := range reg.Tools() {
				out = append(out, schema{Name: t.Name, Description: t.Description, Parameters: t.Schema})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), runner.Version)
		},
	}
}

func setup(opts *rootOptions) (arturo.Config, *slog.Logger, error) {
	cfg, err := arturo.LoadConfig(opts.configPath)
	if err != nil {
		return arturo.Config{}, nil, err
	}
	logger := logging.InitLogger(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)
	return cfg, logger, nil
}

func runAssistant(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	if opts.silent {
		cfg.Turn.StartSilent = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := arturo.New(ctx, cfg, arturo.Options{
		Logger: logger,
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		Banner: cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("app_close_failed", "error", err)
		}
	}()

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
