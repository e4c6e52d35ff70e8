package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nholden/screentrail/internal/graph"
)

func newBuildGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build-graph",
		Short: "Infer a screen navigation graph from a directory of screen images",
		Long: `Infer screen nodes and navigation edges from a directory of screen images.

Each image becomes one node, described via the external inference service;
node ids are assigned sequentially in filename order starting from --start-id.
Edges are then inferred per node against the full candidate list. A failing
image degrades to a filename-derived fallback node, and malformed edge
responses are dropped, so one bad unit of work never aborts the build.

Example:
  screentrail build-graph --screens ./screens --out ./run1 --hints ./screens/manifest.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			screensDir, _ := cmd.Flags().GetString("screens")
			outDir, _ := cmd.Flags().GetString("out")
			hintsPath, _ := cmd.Flags().GetString("hints")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("start-id") {
				cfg.Build.StartID, _ = cmd.Flags().GetInt("start-id")
			}
			if cmd.Flags().Changed("timeout") {
				seconds, _ := cmd.Flags().GetInt("timeout")
				cfg.Inference.Timeout = time.Duration(seconds) * time.Second
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.Inference.MaxAttempts, _ = cmd.Flags().GetInt("max-attempts")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// Fail before any network call if there is nothing to build.
			if _, err := graph.ListScreens(screensDir); err != nil {
				return err
			}

			client, err := newInferenceClient(cfg)
			if err != nil {
				return err
			}
			log := newOperationalLogger(cfg)

			hints, err := graph.LoadHints(hintsPath)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			builder := graph.NewBuilder(client, newRetryPolicy(cfg), log, cfg.Build.StartID)

			ctx := cmd.Context()
			nodes, err := builder.BuildNodes(ctx, screensDir, hints)
			if err != nil {
				return err
			}
			if err := graph.SaveNodes(outDir, nodes); err != nil {
				return err
			}

			set, err := builder.BuildEdges(ctx, nodes)
			if err != nil {
				return err
			}
			if err := graph.SaveEdges(outDir, set); err != nil {
				return err
			}

			stats := builder.Stats()
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"out":   outDir,
					"stats": stats,
				})
			}

			fmt.Printf("Built graph in %s\n", outDir)
			fmt.Printf("  Nodes: %d (%d fallback)\n", stats.Nodes, stats.FallbackNodes)
			fmt.Printf("  Edges: %d (%d dropped, %d nodes without edge response)\n",
				stats.Edges, stats.DroppedEdges, stats.FailedEdgeNodes)
			return nil
		},
	}

	cmd.Flags().String("screens", "", "Directory of screen images (required)")
	cmd.Flags().String("out", "", "Output directory for graph artifacts (required)")
	cmd.Flags().String("hints", "", "Optional JSON manifest mapping filenames to external reference ids")
	cmd.Flags().Int("start-id", 1, "Id assigned to the first screen node")
	cmd.Flags().Int("timeout", 30, "Per-call inference timeout in seconds")
	cmd.Flags().Int("max-attempts", 3, "Retry bound for failing inference calls")
	_ = cmd.MarkFlagRequired("screens")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}
