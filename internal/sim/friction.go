package sim

import "github.com/nholden/screentrail/internal/models"

// FrictionDetector is the pluggable policy deciding whether a step carried
// friction. The report schema is fixed; the heuristic is swappable.
type FrictionDetector interface {
	Detect(d Decision, chosen models.NavigationEdge) bool
}

// ConfidenceFriction is the default detector: a step is friction when the
// persona reported it, or when the chosen edge's inferred confidence falls
// below Threshold (an uncertain transition usually reads as a confusing UI).
type ConfidenceFriction struct {
	Threshold float64
}

// DefaultFriction returns the default detector with a 0.3 threshold.
func DefaultFriction() ConfidenceFriction {
	return ConfidenceFriction{Threshold: 0.3}
}

func (c ConfidenceFriction) Detect(d Decision, chosen models.NavigationEdge) bool {
	return d.Friction || chosen.Confidence < c.Threshold
}
