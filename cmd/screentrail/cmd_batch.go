package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nholden/screentrail/internal/batch"
	"github.com/nholden/screentrail/internal/persona"
	"github.com/nholden/screentrail/internal/sim"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run one isolated simulation per persona and aggregate the results",
		Long: `Run the whole persona catalog against a built graph: each persona gets a
private clone of the base graph artifacts under <base>/runs/ and its own
simulator, executed through a bounded worker pool sharing one request-rate
limiter toward the inference service.

A failing persona run is recorded in the summary and does not abort the rest
of the batch; the command exits non-zero if any persona failed.

Example:
  screentrail batch --base ./run1 --personas ./personas.json \
    --source 1 --target 5 --goal "buy a monthly pass"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir, _ := cmd.Flags().GetString("base")
			catalogPath, _ := cmd.Flags().GetString("personas")
			sourceID, _ := cmd.Flags().GetInt("source")
			targetID, _ := cmd.Flags().GetInt("target")
			goal, _ := cmd.Flags().GetString("goal")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-minutes") {
				cfg.Simulation.MaxMinutes, _ = cmd.Flags().GetFloat64("max-minutes")
			}
			if cmd.Flags().Changed("workers") {
				cfg.Batch.Workers, _ = cmd.Flags().GetInt("workers")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			catalog, err := persona.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}

			client, err := newInferenceClient(cfg)
			if err != nil {
				return err
			}
			log := newOperationalLogger(cfg)

			orch := &batch.Orchestrator{
				BaseDir:    baseDir,
				Catalog:    catalog,
				Goal:       goal,
				SourceID:   sourceID,
				TargetID:   targetID,
				MaxMinutes: cfg.Simulation.MaxMinutes,
				MaxSteps:   cfg.Simulation.MaxSteps,
				Workers:    cfg.Batch.Workers,
				RunTimeout: cfg.Batch.RunTimeout,
				Decider:    &sim.LLMDecider{Client: client},
				Policy:     newRetryPolicy(cfg),
				Log:        log,
				LogLevel:   cfg.Logging.Level,
			}

			summary, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				if err := json.NewEncoder(os.Stdout).Encode(summary); err != nil {
					return err
				}
			} else {
				fmt.Printf("Batch: %d personas, %d succeeded, %d failed\n",
					summary.Personas, summary.Succeeded, summary.Failed)
				for _, row := range summary.Rows {
					line := fmt.Sprintf("  %s: %s (%d steps, %d friction, %d feedback)",
						row.PersonaName, row.Status, row.Steps, row.FrictionCount, row.FeedbackCount)
					if row.Error != "" {
						line += ": " + row.Error
					}
					fmt.Println(line)
				}
			}

			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d persona runs failed", summary.Failed, summary.Personas)
			}
			return nil
		},
	}

	cmd.Flags().String("base", "", "Base run directory containing built graph artifacts (required)")
	cmd.Flags().String("personas", "", "Path to the persona catalog (required)")
	cmd.Flags().Int("source", 0, "Source screen node id (required)")
	cmd.Flags().Int("target", 0, "Target screen node id (required)")
	cmd.Flags().String("goal", "", "Goal text every persona pursues (required)")
	cmd.Flags().Float64("max-minutes", 5, "Wall-clock budget per persona run in minutes")
	cmd.Flags().Int("workers", 4, "Bounded concurrency for persona runs")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("personas")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("goal")

	return cmd
}
