// Package sim runs goal-seeking traversal simulations over a screen graph:
// one persona attempting to reach a target screen from a source screen under
// a goal, a wall-clock budget, and a hard step cap.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nholden/screentrail/internal/inference"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/retry"
)

// DecisionKind says what the persona decided at one step.
type DecisionKind string

const (
	// DecideMove selects one of the candidate edges.
	DecideMove DecisionKind = "move"

	// DecideUnreachable abandons the task: the goal cannot be reached
	// from here. The run terminates as DroppedOff.
	DecideUnreachable DecisionKind = "goal_unreachable"

	// DecideSatisfied declares the goal already met despite the graph
	// saying otherwise. The run terminates as ReachedGoal.
	DecideSatisfied DecisionKind = "goal_satisfied"
)

// Decision is the outcome of one decision call.
type Decision struct {
	Kind DecisionKind `json:"decision"`

	// EdgeID selects the chosen edge when Kind is DecideMove.
	EdgeID int `json:"edge_id,omitempty"`

	// Friction marks the step as confusing or costly from the persona's
	// point of view. Feedback is optional free-text commentary.
	Friction bool   `json:"friction,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// Input is the decision context for one step.
type Input struct {
	Persona models.Persona
	Goal    string
	Node    models.ScreenNode
	Edges   []models.NavigationEdge
}

// Decider is the pluggable decision function walked by the simulator.
// Implementations may be non-deterministic (LLM-backed) or deterministic
// stubs for tests.
type Decider interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// LLMDecider implements Decider over the external inference service.
type LLMDecider struct {
	Client inference.Client
}

// Decide asks the service to pick an action for the persona. The response
// must be strict JSON; schema violations are permanent errors so the retry
// policy does not waste calls on them.
func (d *LLMDecider) Decide(ctx context.Context, in Input) (Decision, error) {
	resp, err := d.Client.Complete(ctx, inference.Request{Prompt: decisionPrompt(in)})
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err := inference.DecodeStrict(resp, &decision); err != nil {
		return Decision{}, retry.Permanent(err)
	}

	switch decision.Kind {
	case DecideUnreachable, DecideSatisfied:
		return decision, nil
	case DecideMove:
		for _, e := range in.Edges {
			if e.ID == decision.EdgeID {
				return decision, nil
			}
		}
		return Decision{}, retry.Permanent(fmt.Errorf("%w: decision selected unknown edge %d",
			inference.ErrSchemaValidation, decision.EdgeID))
	default:
		return Decision{}, retry.Permanent(fmt.Errorf("%w: invalid decision kind %q",
			inference.ErrSchemaValidation, decision.Kind))
	}
}

// decisionPrompt renders the persona, goal, current screen, and candidate
// edges into a strict-JSON decision request.
func decisionPrompt(in Input) string {
	attrs, _ := json.Marshal(in.Persona.Attributes)

	var sb strings.Builder
	for _, e := range in.Edges {
		fmt.Fprintf(&sb, "- edge %d: %s (leads to screen %d, confidence %.2f)\n",
			e.ID, e.ActionDescription, e.Destination, e.Confidence)
	}

	return fmt.Sprintf(`You are simulating a user of an application, deciding their next action.

## Persona
Name: %s
Attributes: %s

## Goal
%s

## Current Screen
%s — %s

## Available Actions
%s
## Task
Decide what this persona does next. Choose exactly one:
- pick one of the listed edges by id if an action plausibly advances the goal
- declare the goal unreachable if the persona would give up here
- declare the goal satisfied if this screen already fulfills the goal

Mark friction=true if the persona would find this step confusing, and add a
short first-person feedback sentence when the persona has something to say.

## Response Format
Respond with ONLY a JSON object (no markdown code blocks, no additional text):
{
  "decision": "move" | "goal_unreachable" | "goal_satisfied",
  "edge_id": <id of the chosen edge, only when decision is "move">,
  "friction": <boolean>,
  "feedback": "<optional short comment in the persona's voice>"
}`,
		in.Persona.Name, string(attrs), in.Goal,
		in.Node.Name, in.Node.Description, sb.String())
}
