package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nholden/screentrail/internal/graph"
	"github.com/nholden/screentrail/internal/logging"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/persona"
	"github.com/nholden/screentrail/internal/sim"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one persona's goal-directed traversal over a built graph",
		Long: `Run a single traversal simulation: one persona attempting to reach the
target screen from the source screen under a goal and a time budget.

The run directory must already contain built graph artifacts (nodes.json,
edges.json); the run writes exactly one report.json next to them.

Example:
  screentrail simulate --run ./run1 --source 1 --target 5 \
    --goal "buy a monthly pass" --personas ./personas.json --persona 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, _ := cmd.Flags().GetString("run")
			sourceID, _ := cmd.Flags().GetInt("source")
			targetID, _ := cmd.Flags().GetInt("target")
			goal, _ := cmd.Flags().GetString("goal")
			catalogPath, _ := cmd.Flags().GetString("personas")
			personaID, _ := cmd.Flags().GetInt("persona")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-minutes") {
				cfg.Simulation.MaxMinutes, _ = cmd.Flags().GetFloat64("max-minutes")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Missing graph artifacts are an unrecoverable setup failure.
			nodes, err := graph.LoadNodes(runDir)
			if err != nil {
				return err
			}
			set, err := graph.LoadEdges(runDir)
			if err != nil {
				return err
			}

			catalog, err := persona.LoadCatalog(catalogPath)
			if err != nil {
				return err
			}
			p, ok := catalog.ByID(personaID)
			if !ok {
				return fmt.Errorf("%w: persona %d not found in %s",
					models.ErrInputValidation, personaID, catalogPath)
			}

			client, err := newInferenceClient(cfg)
			if err != nil {
				return err
			}
			log := newOperationalLogger(cfg)
			decisions := logging.NewDecisionLogger(runDir, cfg.Logging.Level)
			defer decisions.Close()

			runner := &sim.Runner{
				Persona:    p,
				Goal:       goal,
				SourceID:   sourceID,
				TargetID:   targetID,
				MaxMinutes: cfg.Simulation.MaxMinutes,
				MaxSteps:   cfg.Simulation.MaxSteps,
				Decider:    &sim.LLMDecider{Client: client},
				Policy:     newRetryPolicy(cfg),
				Log:        log,
				Decisions:  decisions,
			}

			report, err := runner.Run(cmd.Context(), nodes, set)
			if err != nil {
				return err
			}
			if err := sim.SaveReport(runDir, report); err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Persona %q: %s after %d steps (%.1fs)\n",
				p.Name, report.Status, report.Steps, report.TimeSec)
			if report.StatusDetail != "" {
				fmt.Printf("  %s\n", report.StatusDetail)
			}
			for _, f := range report.FrictionPoints {
				fmt.Printf("  friction: %s\n", f)
			}
			for _, f := range report.Feedback {
				fmt.Printf("  feedback: %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().String("run", "", "Isolated run directory containing graph artifacts (required)")
	cmd.Flags().Int("source", 0, "Source screen node id (required)")
	cmd.Flags().Int("target", 0, "Target screen node id (required)")
	cmd.Flags().String("goal", "", "Goal text the persona pursues (required)")
	cmd.Flags().String("personas", "", "Path to the persona catalog (required)")
	cmd.Flags().Int("persona", 0, "Persona id to simulate (required)")
	cmd.Flags().Float64("max-minutes", 5, "Wall-clock budget for the run in minutes")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("goal")
	_ = cmd.MarkFlagRequired("personas")
	_ = cmd.MarkFlagRequired("persona")

	return cmd
}
