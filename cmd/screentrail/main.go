package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nholden/screentrail/internal/config"
	"github.com/nholden/screentrail/internal/inference"
	"github.com/nholden/screentrail/internal/logging"
	"github.com/nholden/screentrail/internal/retry"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "screentrail",
		Short: "Screen graph building and persona traversal simulation",
		Long: `screentrail turns a set of UI screen images into a navigation graph and
simulates synthetic persona users attempting a goal-directed task across it.

The build phase infers screens and navigation actions from images via an
external inference service. The simulate phase walks the frozen graph as a
persona under a time budget and reports friction points, drop-offs, and
feedback. The batch phase runs one isolated simulation per persona and
aggregates the results.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for machine consumption)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.screentrail/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBuildGraphCmd(),
		newSimulateCmd(),
		newBatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				fmt.Printf("{\"version\":%q}\n", version)
			} else {
				fmt.Printf("screentrail version %s\n", version)
			}
		},
	}
}

// loadConfig builds the one immutable Config for this invocation: defaults,
// then the config file, then environment overrides, validated once. It is
// passed by parameter from here on; nothing else reads the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newInferenceClient builds the provider client, checks credentials, and
// wraps it in the shared request-rate limiter.
func newInferenceClient(cfg *config.Config) (inference.Client, error) {
	client, err := inference.NewClient(inference.ClientConfig{
		Provider: cfg.Inference.Provider,
		APIKey:   cfg.Inference.APIKey,
		BaseURL:  cfg.Inference.BaseURL,
		Model:    cfg.Inference.Model,
		Timeout:  cfg.Inference.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	if !client.Available() {
		return nil, fmt.Errorf("%w: no API key configured for provider %q",
			config.ErrConfiguration, cfg.Inference.Provider)
	}

	limiter := inference.NewLimiter(cfg.Inference.RequestsPerSec, cfg.Inference.Burst)
	return inference.Limited(client, limiter), nil
}

func newRetryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Inference.MaxAttempts,
		BaseDelay:   cfg.Inference.BackoffBase,
		MaxDelay:    8 * cfg.Inference.BackoffBase,
	}
}

func newOperationalLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}
