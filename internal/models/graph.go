// Package models defines the shared data types for screentrail: screen graph
// artifacts, personas, and simulation run reports.
package models

import "strings"

// Artifact filenames inside a run directory. The build phase writes the graph
// files once; simulation runs only ever read them.
const (
	NodesFile     = "nodes.json"
	EdgesFile     = "edges.json"
	ReportFile    = "report.json"
	SummaryFile   = "summary.json"
	SummaryDBFile = "summary.db"
)

// MaxActionKeyLen is the maximum length of a normalized action key.
const MaxActionKeyLen = 80

// DefaultActionKey is used when no usable action key can be derived.
const DefaultActionKey = "action"

// ScreenNode is one UI screen represented as a graph vertex.
// IDs are assigned sequentially in input order by the graph builder and are
// immutable after creation.
type ScreenNode struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SourceFile  string `json:"source_file"`
	ExternalRef string `json:"external_ref,omitempty"`

	// Fallback marks a node synthesized from its filename after the
	// inference service could not be reached or kept answering garbage.
	Fallback bool `json:"fallback,omitempty"`
}

// NavigationEdge is a directed possible transition between two screens.
// Destination always references an existing node other than Source; edges
// violating that are discarded at creation and never persisted.
type NavigationEdge struct {
	ID                int     `json:"id"`
	Source            int     `json:"source"`
	Destination       int     `json:"destination"`
	ActionKey         string  `json:"action_key"`
	ActionDescription string  `json:"action_description"`
	Confidence        float64 `json:"confidence"`
}

// ActionsDictionary maps a normalized action key to a human-readable label.
// It is populated first-seen-wins over the edge list in generation order.
type ActionsDictionary map[string]string

// EdgeSet is the on-disk shape of the edges artifact.
type EdgeSet struct {
	Actions ActionsDictionary `json:"actions"`
	Edges   []NavigationEdge  `json:"edges"`
}

// NormalizeActionKey normalizes raw into a valid action key: lowercase,
// restricted to [a-z0-9_], no leading/trailing/duplicate underscores, at most
// MaxActionKeyLen characters. If raw yields nothing usable, fallback is
// normalized instead; if that also fails, DefaultActionKey is returned.
func NormalizeActionKey(raw, fallback string) string {
	if key := normalizeKey(raw); key != "" {
		return key
	}
	if key := normalizeKey(fallback); key != "" {
		return key
	}
	return DefaultActionKey
}

// ValidActionKey reports whether key is already in normalized form.
func ValidActionKey(key string) bool {
	return key != "" && len(key) <= MaxActionKeyLen && normalizeKey(key) == key
}

func normalizeKey(s string) string {
	var b strings.Builder
	lastUnderscore := true // swallow leading separators
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	key := strings.TrimRight(b.String(), "_")
	if len(key) > MaxActionKeyLen {
		key = strings.TrimRight(key[:MaxActionKeyLen], "_")
	}
	return key
}
