package sim

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nholden/screentrail/internal/inference"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/retry"
)

// deciderFunc adapts a function to the Decider interface for scripted tests.
type deciderFunc func(ctx context.Context, in Input) (Decision, error)

func (f deciderFunc) Decide(ctx context.Context, in Input) (Decision, error) { return f(ctx, in) }

// scriptDecider replays a fixed decision sequence and counts calls.
type scriptDecider struct {
	decisions []Decision
	calls     int
}

func (s *scriptDecider) Decide(ctx context.Context, in Input) (Decision, error) {
	if s.calls >= len(s.decisions) {
		return Decision{}, fmt.Errorf("script exhausted after %d decisions", len(s.decisions))
	}
	d := s.decisions[s.calls]
	s.calls++
	return d, nil
}

// fakeClock advances by a fixed step on every reading.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func testGraph() ([]models.ScreenNode, *models.EdgeSet) {
	nodes := []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Cart"},
		{ID: 3, Name: "Checkout"},
	}
	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{
			"tap_cart": "Tap the cart icon",
			"checkout": "Tap the checkout button",
			"go_back":  "Tap the back arrow",
		},
		Edges: []models.NavigationEdge{
			{ID: 1, Source: 1, Destination: 2, ActionKey: "tap_cart", ActionDescription: "Tap the cart icon", Confidence: 0.9},
			{ID: 2, Source: 2, Destination: 3, ActionKey: "checkout", ActionDescription: "Tap the checkout button", Confidence: 0.9},
			{ID: 3, Source: 2, Destination: 1, ActionKey: "go_back", ActionDescription: "Tap the back arrow", Confidence: 0.9},
		},
	}
	return nodes, set
}

func newTestRunner(d Decider) *Runner {
	return &Runner{
		Persona:    models.Persona{ID: 1, Name: "Rushed Parent"},
		Goal:       "buy the items in the cart",
		SourceID:   1,
		TargetID:   3,
		MaxMinutes: 5,
		MaxSteps:   50,
		Decider:    d,
		Policy:     retry.Policy{MaxAttempts: 1},
		nowFunc:    (&fakeClock{t: time.Unix(0, 0)}).now,
	}
}

func TestRun_ReachesGoal(t *testing.T) {
	nodes, set := testGraph()
	script := &scriptDecider{decisions: []Decision{
		{Kind: DecideMove, EdgeID: 1},
		{Kind: DecideMove, EdgeID: 2},
	}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusReachedGoal {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusReachedGoal)
	}
	if report.Steps != 2 {
		t.Errorf("Steps = %d, want 2", report.Steps)
	}
	if len(report.StepRecords) != 2 {
		t.Fatalf("got %d step records, want 2", len(report.StepRecords))
	}
	if report.StepRecords[0].FromNode != 1 || report.StepRecords[0].ToNode != 2 {
		t.Errorf("step 1 = %d -> %d, want 1 -> 2", report.StepRecords[0].FromNode, report.StepRecords[0].ToNode)
	}
	if report.StepRecords[1].ActionKey != "checkout" {
		t.Errorf("step 2 ActionKey = %q, want checkout", report.StepRecords[1].ActionKey)
	}
	if len(report.DropOffPoints) != 0 {
		t.Errorf("DropOffPoints = %v, want none", report.DropOffPoints)
	}
}

func TestRun_SourceEqualsTarget(t *testing.T) {
	nodes, set := testGraph()

	// The decider must never be consulted when the run starts at the target.
	r := newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		t.Error("Decide called for a run starting at its target")
		return Decision{}, nil
	}))
	r.SourceID = 3

	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != models.StatusReachedGoal {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusReachedGoal)
	}
	if report.Steps != 0 {
		t.Errorf("Steps = %d, want 0", report.Steps)
	}
	if report.TimeSec != 0 {
		t.Errorf("TimeSec = %v, want 0", report.TimeSec)
	}
}

func TestRun_UnknownEndpoints(t *testing.T) {
	nodes, set := testGraph()

	r := newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		return Decision{}, nil
	}))
	r.SourceID = 99
	if _, err := r.Run(context.Background(), nodes, set); !errors.Is(err, models.ErrInputValidation) {
		t.Errorf("unknown source error = %v, want ErrInputValidation", err)
	}

	r = newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		return Decision{}, nil
	}))
	r.TargetID = 99
	if _, err := r.Run(context.Background(), nodes, set); !errors.Is(err, models.ErrInputValidation) {
		t.Errorf("unknown target error = %v, want ErrInputValidation", err)
	}
}

func TestRun_DeadEndDropsOff(t *testing.T) {
	nodes := []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Error Page"},
		{ID: 3, Name: "Checkout"},
	}
	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{"tap": "Tap the banner"},
		Edges: []models.NavigationEdge{
			{ID: 1, Source: 1, Destination: 2, ActionKey: "tap", ActionDescription: "Tap the banner", Confidence: 0.9},
		},
	}
	script := &scriptDecider{decisions: []Decision{{Kind: DecideMove, EdgeID: 1}}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusDroppedOff {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusDroppedOff)
	}
	if len(report.DropOffPoints) != 1 {
		t.Fatalf("DropOffPoints = %v, want one entry", report.DropOffPoints)
	}
}

func TestRun_DeciderFailureRetriedThenDropsOff(t *testing.T) {
	nodes, set := testGraph()

	calls := 0
	r := newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		calls++
		return Decision{}, fmt.Errorf("%w: service unavailable", inference.ErrExternalService)
	}))
	r.Policy = retry.Policy{MaxAttempts: 3}

	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if calls != 3 {
		t.Errorf("decider called %d times, want exactly 3", calls)
	}
	if report.Status != models.StatusDroppedOff {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusDroppedOff)
	}
}

func TestRun_StepCapFails(t *testing.T) {
	// A two-node cycle that never reaches the target.
	nodes := []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Cart"},
		{ID: 3, Name: "Checkout"},
	}
	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{"fwd": "Forward", "back": "Back"},
		Edges: []models.NavigationEdge{
			{ID: 1, Source: 1, Destination: 2, ActionKey: "fwd", ActionDescription: "Forward", Confidence: 0.9},
			{ID: 2, Source: 2, Destination: 1, ActionKey: "back", ActionDescription: "Back", Confidence: 0.9},
		},
	}

	r := newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		return Decision{Kind: DecideMove, EdgeID: in.Edges[0].ID}, nil
	}))
	r.MaxSteps = 4

	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusFailed {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusFailed)
	}
	// The run stops on the first step past the cap.
	if report.Steps != 5 {
		t.Errorf("Steps = %d, want 5", report.Steps)
	}
}

func TestRun_TimeBudgetExhausted(t *testing.T) {
	nodes := []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Cart"},
		{ID: 3, Name: "Checkout"},
	}
	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{"fwd": "Forward", "back": "Back"},
		Edges: []models.NavigationEdge{
			{ID: 1, Source: 1, Destination: 2, ActionKey: "fwd", ActionDescription: "Forward", Confidence: 0.9},
			{ID: 2, Source: 2, Destination: 1, ActionKey: "back", ActionDescription: "Back", Confidence: 0.9},
		},
	}

	r := newTestRunner(deciderFunc(func(ctx context.Context, in Input) (Decision, error) {
		return Decision{Kind: DecideMove, EdgeID: in.Edges[0].ID}, nil
	}))
	r.MaxMinutes = 1
	// Each clock reading advances 40 seconds, so the second loop iteration
	// observes the one-minute deadline as passed.
	r.nowFunc = (&fakeClock{t: time.Unix(0, 0), step: 40 * time.Second}).now

	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusTimedOut {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusTimedOut)
	}
	if report.Steps != 1 {
		t.Errorf("Steps = %d, want 1", report.Steps)
	}
}

func TestRun_PersonaGivesUp(t *testing.T) {
	nodes, set := testGraph()
	script := &scriptDecider{decisions: []Decision{
		{Kind: DecideMove, EdgeID: 1},
		{Kind: DecideUnreachable, Feedback: "I have no idea where checkout is."},
	}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusDroppedOff {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusDroppedOff)
	}
	if report.Steps != 1 {
		t.Errorf("Steps = %d, want 1", report.Steps)
	}
	if len(report.Feedback) != 1 || report.Feedback[0] != "I have no idea where checkout is." {
		t.Errorf("Feedback = %v", report.Feedback)
	}
	if len(report.DropOffPoints) != 1 {
		t.Errorf("DropOffPoints = %v, want one entry", report.DropOffPoints)
	}
}

func TestRun_PersonaDeclaresGoalSatisfied(t *testing.T) {
	nodes, set := testGraph()
	script := &scriptDecider{decisions: []Decision{
		{Kind: DecideMove, EdgeID: 1},
		{Kind: DecideSatisfied},
	}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Status != models.StatusReachedGoal {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusReachedGoal)
	}
	if report.Steps != 1 {
		t.Errorf("Steps = %d, want 1", report.Steps)
	}
}

func TestRun_FrictionCollected(t *testing.T) {
	nodes := []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Cart"},
		{ID: 3, Name: "Checkout"},
	}
	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{"tap_cart": "Tap the cart icon", "checkout": "Find the tiny checkout link"},
		Edges: []models.NavigationEdge{
			{ID: 1, Source: 1, Destination: 2, ActionKey: "tap_cart", ActionDescription: "Tap the cart icon", Confidence: 0.9},
			// Low confidence trips the default friction threshold.
			{ID: 2, Source: 2, Destination: 3, ActionKey: "checkout", ActionDescription: "Find the tiny checkout link", Confidence: 0.2},
		},
	}
	script := &scriptDecider{decisions: []Decision{
		{Kind: DecideMove, EdgeID: 1, Friction: true, Feedback: "The cart icon is hard to spot."},
		{Kind: DecideMove, EdgeID: 2},
	}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.FrictionPoints) != 2 {
		t.Errorf("FrictionPoints = %v, want both steps flagged", report.FrictionPoints)
	}
	if len(report.Feedback) != 1 {
		t.Errorf("Feedback = %v, want one entry", report.Feedback)
	}
}

func TestRun_UnknownEdgeDecisionDropsOff(t *testing.T) {
	nodes, set := testGraph()
	script := &scriptDecider{decisions: []Decision{{Kind: DecideMove, EdgeID: 99}}}

	r := newTestRunner(script)
	report, err := r.Run(context.Background(), nodes, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != models.StatusDroppedOff {
		t.Errorf("Status = %q, want %q", report.Status, models.StatusDroppedOff)
	}
	if report.Steps != 0 {
		t.Errorf("Steps = %d, want 0", report.Steps)
	}
}
