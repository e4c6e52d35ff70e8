// Package batch runs one isolated traversal simulation per persona over a
// shared base graph and aggregates the results into a batch summary.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nholden/screentrail/internal/graph"
	"github.com/nholden/screentrail/internal/logging"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/persona"
	"github.com/nholden/screentrail/internal/retry"
	"github.com/nholden/screentrail/internal/sim"
)

// ErrRunIsolation marks a failure to clone the base artifacts for one
// persona. It is fatal to that persona's run only; the rest of the batch
// continues and the failure is recorded in the summary.
var ErrRunIsolation = errors.New("run isolation error")

// Orchestrator runs the batch: one simulator per persona, each bound to a
// private copy of the base graph artifacts, executed through a bounded
// worker pool. The base directory is read-only throughout.
type Orchestrator struct {
	BaseDir  string
	Catalog  persona.Catalog
	Goal     string
	SourceID int
	TargetID int

	MaxMinutes float64
	MaxSteps   int

	// Workers bounds concurrency; the inference client shared by all
	// runs is expected to be rate-limited separately.
	Workers int

	// RunTimeout externally cancels a run that exceeds it, independent
	// of the run's internal time budget.
	RunTimeout time.Duration

	Decider sim.Decider
	Policy  retry.Policy

	Log      *slog.Logger
	LogLevel string

	nowFunc func() time.Time // injectable clock for testing
}

// Run executes the whole batch and returns the aggregate summary. A failing
// persona run is recorded in the summary and does not abort the remaining
// personas; callers decide how to surface partial failure.
func (o *Orchestrator) Run(ctx context.Context) (*models.BatchSummary, error) {
	log := o.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := o.nowFunc
	if now == nil {
		now = time.Now
	}

	// The graph must be fully built and frozen before any simulation
	// starts; validating it here fails fast on a broken base directory.
	if _, err := graph.LoadNodes(o.BaseDir); err != nil {
		return nil, err
	}
	if _, err := graph.LoadEdges(o.BaseDir); err != nil {
		return nil, err
	}

	workers := o.Workers
	if workers < 1 {
		workers = 1
	}

	// MkdirTemp keeps successive batches over the same base isolated even
	// when they start within the same second.
	runsRoot := filepath.Join(o.BaseDir, "runs")
	if err := os.MkdirAll(runsRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}
	batchRoot, err := os.MkdirTemp(runsRoot, now().UTC().Format("20060102-150405")+"-")
	if err != nil {
		return nil, fmt.Errorf("creating batch directory: %w", err)
	}

	reports := make([]models.RunReport, len(o.Catalog))
	runErrs := make([]error, len(o.Catalog))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, p := range o.Catalog {
		wg.Add(1)
		go func(i int, p models.Persona) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report, err := o.runPersona(ctx, batchRoot, p)
			if err != nil {
				log.Warn("persona run failed", "persona", p.Name, "error", err)
				runErrs[i] = err
				report = failedReport(o, p, err)
			}
			reports[i] = report
		}(i, p)
	}
	wg.Wait()

	summary := &models.BatchSummary{
		Goal:     o.Goal,
		SourceID: o.SourceID,
		TargetID: o.TargetID,
		Personas: len(o.Catalog),
		Reports:  reports,
		Rows:     make([]models.SummaryRow, 0, len(reports)),
	}
	for i, r := range reports {
		row := models.RowFromReport(r)
		if runErrs[i] != nil {
			row.Error = runErrs[i].Error()
		}
		summary.Rows = append(summary.Rows, row)
		if runErrs[i] != nil || r.Status == models.StatusFailed {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	if err := writeSummary(o.BaseDir, summary); err != nil {
		return nil, err
	}
	if err := WriteSummaryDB(filepath.Join(o.BaseDir, models.SummaryDBFile), summary); err != nil {
		return nil, err
	}

	log.Info("batch finished",
		"personas", summary.Personas, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

// runPersona clones the base artifacts into a fresh isolated run directory
// and executes one simulator bound to it.
func (o *Orchestrator) runPersona(ctx context.Context, batchRoot string, p models.Persona) (models.RunReport, error) {
	runDir := filepath.Join(batchRoot, fmt.Sprintf("%03d-%s", p.ID, slug(p.Name)))
	if err := cloneArtifacts(o.BaseDir, runDir); err != nil {
		return models.RunReport{}, fmt.Errorf("%w: %v", ErrRunIsolation, err)
	}

	if o.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.RunTimeout)
		defer cancel()
	}

	// Each run reads only its own copy of the graph.
	nodes, err := graph.LoadNodes(runDir)
	if err != nil {
		return models.RunReport{}, err
	}
	set, err := graph.LoadEdges(runDir)
	if err != nil {
		return models.RunReport{}, err
	}

	decisions := logging.NewDecisionLogger(runDir, o.LogLevel)
	defer decisions.Close()

	runner := &sim.Runner{
		Persona:    p,
		Goal:       o.Goal,
		SourceID:   o.SourceID,
		TargetID:   o.TargetID,
		MaxMinutes: o.MaxMinutes,
		MaxSteps:   o.MaxSteps,
		Decider:    o.Decider,
		Policy:     o.Policy,
		Log:        o.Log,
		Decisions:  decisions,
	}

	report, err := runner.Run(ctx, nodes, set)
	if err != nil {
		return models.RunReport{}, err
	}

	if err := sim.SaveReport(runDir, report); err != nil {
		return models.RunReport{}, err
	}
	return report, nil
}

// failedReport records a persona whose run never produced a report, so the
// summary still carries one entry per persona with a written reason.
func failedReport(o *Orchestrator, p models.Persona, err error) models.RunReport {
	return models.RunReport{
		PersonaID:      p.ID,
		PersonaName:    p.Name,
		Status:         models.StatusFailed,
		SourceID:       o.SourceID,
		TargetID:       o.TargetID,
		Goal:           o.Goal,
		StatusDetail:   err.Error(),
		FrictionPoints: []string{},
		DropOffPoints:  []string{},
		Feedback:       []string{},
	}
}

// cloneArtifacts copies the frozen graph artifacts from base into runDir.
// Copy, not move: the base stays reusable across personas and batches.
func cloneArtifacts(base, runDir string) error {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	for _, name := range []string{models.NodesFile, models.EdgesFile} {
		if err := copyFile(filepath.Join(base, name), filepath.Join(runDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

func writeSummary(dir string, summary *models.BatchSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, models.SummaryFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// slug flattens a persona name into a directory-safe fragment.
func slug(name string) string {
	return models.NormalizeActionKey(name, "persona")
}
