package sim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nholden/screentrail/internal/logging"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/retry"
)

// Runner executes one traversal run: a bounded state machine stepping from
// SourceID toward TargetID until a terminal state is reached. A Runner is
// single-use and owns its run state exclusively; no run reads or mutates
// another run's state.
type Runner struct {
	Persona  models.Persona
	Goal     string
	SourceID int
	TargetID int

	// MaxMinutes is the wall-clock budget; exceeding it forces TimedOut.
	MaxMinutes float64

	// MaxSteps is the hard cap guarding against runaway loops, enforced
	// independently of the time budget.
	MaxSteps int

	// Decider picks the next action. Policy bounds retries of failing
	// decision calls; on exhaustion the run degrades to DroppedOff
	// rather than looping forever.
	Decider Decider
	Policy  retry.Policy

	// Friction is the step-level friction policy. Nil means the default.
	Friction FrictionDetector

	Log       *slog.Logger
	Decisions *logging.DecisionLogger

	nowFunc func() time.Time // injectable clock for testing
}

// Run walks the graph until a terminal state and assembles the RunReport.
// It returns an error only for unrecoverable setup problems (source or
// target missing from the node set); everything after setup resolves to a
// terminal status instead.
func (r *Runner) Run(ctx context.Context, nodes []models.ScreenNode, set *models.EdgeSet) (models.RunReport, error) {
	now := r.nowFunc
	if now == nil {
		now = time.Now
	}
	log := r.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	friction := r.Friction
	if friction == nil {
		friction = DefaultFriction()
	}

	byID := make(map[int]models.ScreenNode, len(nodes))
	outgoing := make(map[int][]models.NavigationEdge)
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, e := range set.Edges {
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	if _, ok := byID[r.SourceID]; !ok {
		return models.RunReport{}, fmt.Errorf("%w: source node %d not in graph",
			models.ErrInputValidation, r.SourceID)
	}
	if _, ok := byID[r.TargetID]; !ok {
		return models.RunReport{}, fmt.Errorf("%w: target node %d not in graph",
			models.ErrInputValidation, r.TargetID)
	}

	start := now()
	deadline := start.Add(time.Duration(r.MaxMinutes * float64(time.Minute)))

	current := r.SourceID
	stepCount := 0
	var steps []models.StepRecord
	status := models.StatusRunning
	detail := ""

	for status == models.StatusRunning {
		// Goal check comes first so source == target yields zero steps.
		if current == r.TargetID {
			status = models.StatusReachedGoal
			break
		}

		if !now().Before(deadline) {
			status = models.StatusTimedOut
			detail = fmt.Sprintf("time budget of %.1f minutes exhausted at node %d", r.MaxMinutes, current)
			break
		}

		node := byID[current]
		candidates := outgoing[current]
		if len(candidates) == 0 {
			status = models.StatusDroppedOff
			detail = fmt.Sprintf("no outgoing edges from node %d (%s)", node.ID, node.Name)
			break
		}

		decision, err := r.decide(ctx, Input{
			Persona: r.Persona,
			Goal:    r.Goal,
			Node:    node,
			Edges:   candidates,
		})
		if err != nil {
			// Exhausted retries never loop forever; the persona walks away.
			status = models.StatusDroppedOff
			detail = fmt.Sprintf("decision failed at node %d: %v", node.ID, err)
			log.Warn("decision exhausted retries", "node", node.ID, "error", err)
			break
		}

		r.Decisions.Log(map[string]any{
			"persona":  r.Persona.ID,
			"node":     node.ID,
			"decision": string(decision.Kind),
			"edge":     decision.EdgeID,
			"friction": decision.Friction,
		})

		switch decision.Kind {
		case DecideUnreachable:
			status = models.StatusDroppedOff
			detail = fmt.Sprintf("persona gave up at node %d (%s)", node.ID, node.Name)
			if decision.Feedback != "" {
				steps = append(steps, models.StepRecord{
					Step:     stepCount + 1,
					FromNode: node.ID,
					ToNode:   node.ID,
					Feedback: decision.Feedback,
				})
			}

		case DecideSatisfied:
			status = models.StatusReachedGoal
			detail = fmt.Sprintf("persona considered the goal satisfied at node %d (%s)", node.ID, node.Name)

		case DecideMove:
			edge, ok := findEdge(candidates, decision.EdgeID)
			if !ok {
				status = models.StatusDroppedOff
				detail = fmt.Sprintf("decision selected unknown edge %d at node %d", decision.EdgeID, node.ID)
				break
			}

			stepCount++
			steps = append(steps, models.StepRecord{
				Step:              stepCount,
				FromNode:          edge.Source,
				ToNode:            edge.Destination,
				ActionKey:         edge.ActionKey,
				ActionDescription: edge.ActionDescription,
				Friction:          friction.Detect(decision, edge),
				Feedback:          decision.Feedback,
			})
			current = edge.Destination

			log.Debug("step", "n", stepCount, "from", edge.Source, "to", edge.Destination, "action", edge.ActionKey)

			if stepCount > r.MaxSteps {
				status = models.StatusFailed
				detail = fmt.Sprintf("step cap of %d exceeded", r.MaxSteps)
			}
		}
	}

	elapsed := now().Sub(start).Seconds()
	report := r.assemble(status, detail, steps, stepCount, elapsed, current, byID)
	log.Info("run finished",
		"persona", r.Persona.Name, "status", report.Status,
		"steps", report.Steps, "time_sec", report.TimeSec)
	return report, nil
}

// decide invokes the decision function under the bounded retry policy.
func (r *Runner) decide(ctx context.Context, in Input) (Decision, error) {
	var decision Decision
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		decision, err = r.Decider.Decide(ctx, in)
		return err
	})
	return decision, err
}

// assemble builds the terminal report by filtering the step sequence for the
// friction and feedback signals, and recording the drop-off location when
// the run ended short of the goal.
func (r *Runner) assemble(status models.RunStatus, detail string, steps []models.StepRecord,
	stepCount int, elapsed float64, final int, byID map[int]models.ScreenNode) models.RunReport {

	report := models.RunReport{
		PersonaID:      r.Persona.ID,
		PersonaName:    r.Persona.Name,
		Status:         status,
		Steps:          stepCount,
		TimeSec:        elapsed,
		SourceID:       r.SourceID,
		TargetID:       r.TargetID,
		Goal:           r.Goal,
		StatusDetail:   detail,
		FrictionPoints: []string{},
		DropOffPoints:  []string{},
		Feedback:       []string{},
		StepRecords:    steps,
	}

	for _, s := range steps {
		if s.Friction {
			report.FrictionPoints = append(report.FrictionPoints,
				fmt.Sprintf("step %d: %s", s.Step, s.ActionDescription))
		}
		if s.Feedback != "" {
			report.Feedback = append(report.Feedback, s.Feedback)
		}
	}

	if status == models.StatusDroppedOff {
		node := byID[final]
		report.DropOffPoints = append(report.DropOffPoints,
			fmt.Sprintf("node %d (%s): %s", node.ID, node.Name, detail))
	}

	return report
}

func findEdge(edges []models.NavigationEdge, id int) (models.NavigationEdge, bool) {
	for _, e := range edges {
		if e.ID == id {
			return e, true
		}
	}
	return models.NavigationEdge{}, false
}
