package models

// RunStatus is the state of a traversal run. Running is the only
// non-terminal state.
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusReachedGoal RunStatus = "reached_goal"
	StatusDroppedOff  RunStatus = "dropped_off"
	StatusTimedOut    RunStatus = "timed_out"
	StatusFailed      RunStatus = "failed"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusReachedGoal || s == StatusDroppedOff ||
		s == StatusTimedOut || s == StatusFailed
}

// StepRecord is one step taken during a traversal run.
type StepRecord struct {
	Step              int    `json:"step"`
	FromNode          int    `json:"from_node"`
	ToNode            int    `json:"to_node"`
	ActionKey         string `json:"action_key"`
	ActionDescription string `json:"action_description"`

	// Friction marks the step as confusing or costly per the active
	// friction detection policy. Feedback is optional persona commentary.
	Friction bool   `json:"friction,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// RunReport is the immutable terminal artifact of one traversal run.
// FrictionPoints, DropOffPoints, and Feedback are projections of the step
// sequence filtered by the corresponding signal.
type RunReport struct {
	PersonaID   int       `json:"persona_id"`
	PersonaName string    `json:"persona_name,omitempty"`
	Status      RunStatus `json:"status"`
	Steps       int       `json:"steps"`
	TimeSec     float64   `json:"time_sec"`
	SourceID    int       `json:"source_id"`
	TargetID    int       `json:"target_id"`
	Goal        string    `json:"goal,omitempty"`

	// StatusDetail explains why a run ended short of the goal, so a
	// partial artifact always carries a written reason.
	StatusDetail string `json:"status_detail,omitempty"`

	FrictionPoints []string     `json:"friction_points"`
	DropOffPoints  []string     `json:"drop_off_points"`
	Feedback       []string     `json:"feedback"`
	StepRecords    []StepRecord `json:"step_records,omitempty"`
}

// SummaryRow is the flattened tabular projection of one persona's run:
// scalar counts only, no lists.
type SummaryRow struct {
	PersonaID     int       `json:"persona_id"`
	PersonaName   string    `json:"persona_name"`
	Status        RunStatus `json:"status"`
	Steps         int       `json:"steps"`
	TimeSec       float64   `json:"time_sec"`
	FrictionCount int       `json:"friction_count"`
	DropOffCount  int       `json:"drop_off_count"`
	FeedbackCount int       `json:"feedback_count"`
	Error         string    `json:"error,omitempty"`
}

// RowFromReport flattens a report into its tabular projection.
func RowFromReport(r RunReport) SummaryRow {
	return SummaryRow{
		PersonaID:     r.PersonaID,
		PersonaName:   r.PersonaName,
		Status:        r.Status,
		Steps:         r.Steps,
		TimeSec:       r.TimeSec,
		FrictionCount: len(r.FrictionPoints),
		DropOffCount:  len(r.DropOffPoints),
		FeedbackCount: len(r.Feedback),
	}
}

// BatchSummary aggregates one RunReport per persona plus the flattened
// tabular projection of the same result set.
type BatchSummary struct {
	Goal      string       `json:"goal"`
	SourceID  int          `json:"source_id"`
	TargetID  int          `json:"target_id"`
	Personas  int          `json:"personas"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Reports   []RunReport  `json:"reports"`
	Rows      []SummaryRow `json:"rows"`
}
