package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nholden/screentrail/internal/inference"
	"github.com/nholden/screentrail/internal/logging"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/retry"
)

// traceLevel gates full prompt/response logging.
const traceLevel = logging.LevelTrace

// Builder infers screen nodes and navigation edges from a directory of
// screen images. It owns node and edge identity assignment: node ids are
// sequential in input order from a configurable offset, edge ids are
// sequential in generation order.
//
// The builder favors a partial correct graph over a failed pipeline: a
// permanently failing image degrades to a deterministic filename-derived
// fallback node, and a malformed edge response drops only that unit of work.
type Builder struct {
	client  inference.Client
	policy  retry.Policy
	log     *slog.Logger
	startID int

	stats BuildStats
}

// BuildStats counts the degradations applied during a build, so a partial
// graph always carries a written explanation of what was dropped.
type BuildStats struct {
	Nodes           int `json:"nodes"`
	FallbackNodes   int `json:"fallback_nodes"`
	Edges           int `json:"edges"`
	DroppedEdges    int `json:"dropped_edges"`
	FailedEdgeNodes int `json:"failed_edge_nodes"`
}

// NewBuilder creates a Builder. startID is the id of the first node.
func NewBuilder(client inference.Client, policy retry.Policy, log *slog.Logger, startID int) *Builder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		client:  client,
		policy:  policy,
		log:     log,
		startID: startID,
	}
}

// Stats returns a snapshot of the build counters.
func (b *Builder) Stats() BuildStats {
	return b.stats
}

// ListScreens returns the supported image files in screensDir, sorted by
// filename. The sorted order is the input order that determines node ids.
func ListScreens(screensDir string) ([]string, error) {
	entries, err := os.ReadDir(screensDir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading screens directory %s: %v",
			models.ErrInputValidation, screensDir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !inference.SupportedImage(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no screen images found in %s",
			models.ErrInputValidation, screensDir)
	}
	return files, nil
}

// nodeResponse is the strict-JSON contract for node inference. The service
// may suggest an id; it is decoded and then discarded.
type nodeResponse struct {
	ID          any    `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BuildNodes infers one ScreenNode per image in screensDir, in sorted
// filename order. hints optionally maps filenames to external reference ids.
// A failing image never aborts the batch: after the retry bound is exhausted
// it yields a fallback node derived purely from the filename.
func (b *Builder) BuildNodes(ctx context.Context, screensDir string, hints map[string]string) ([]models.ScreenNode, error) {
	files, err := ListScreens(screensDir)
	if err != nil {
		return nil, err
	}

	nodes := make([]models.ScreenNode, 0, len(files))
	for i, file := range files {
		id := b.startID + i
		node, err := b.inferNode(ctx, filepath.Join(screensDir, file), file, id)
		if err != nil {
			b.log.Warn("node inference failed, using fallback",
				"file", file, "id", id, "error", err)
			node = fallbackNode(file, id)
			b.stats.FallbackNodes++
		}
		node.ExternalRef = hints[file]
		nodes = append(nodes, node)
		b.stats.Nodes++
		b.log.Debug("built node", "id", node.ID, "name", node.Name, "fallback", node.Fallback)
	}

	return nodes, nil
}

// inferNode asks the service to describe one screen. Transport failures are
// retried per the policy; schema violations are permanent and degrade to the
// fallback immediately.
func (b *Builder) inferNode(ctx context.Context, imagePath, file string, id int) (models.ScreenNode, error) {
	var node models.ScreenNode

	err := b.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := b.client.Complete(ctx, inference.Request{
			Prompt:    nodePrompt(file),
			ImagePath: imagePath,
		})
		if err != nil {
			return err
		}
		b.log.Log(ctx, traceLevel, "node inference response", "file", file, "response", resp)

		var raw nodeResponse
		if err := inference.DecodeStrict(resp, &raw); err != nil {
			return retry.Permanent(err)
		}
		if raw.Name == "" {
			return retry.Permanent(fmt.Errorf("%w: node response missing name",
				inference.ErrSchemaValidation))
		}

		// The service's own id suggestion is ignored; ids are positional.
		node = models.ScreenNode{
			ID:          id,
			Name:        raw.Name,
			Description: raw.Description,
			SourceFile:  file,
		}
		return nil
	})
	return node, err
}

// fallbackNode builds a deterministic node from the filename alone, with no
// network dependency.
func fallbackNode(file string, id int) models.ScreenNode {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	name := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base))
	if name == "" {
		name = file
	}
	return models.ScreenNode{
		ID:          id,
		Name:        name,
		Description: fmt.Sprintf("Screen imported from %s; description unavailable.", file),
		SourceFile:  file,
		Fallback:    true,
	}
}

// edgeResponse is the strict-JSON contract for edge inference. Fields are
// decoded loosely so a single malformed item can be dropped without
// discarding its siblings.
type edgeResponse struct {
	Edges []rawEdge `json:"edges"`
}

type rawEdge struct {
	Source            any    `json:"source"`
	Destination       any    `json:"destination"`
	ActionKey         string `json:"action_key"`
	ActionDescription string `json:"action_description"`
	Confidence        any    `json:"confidence"`
}

// BuildEdges infers the outgoing edges of every node against the full
// candidate list (excluding the node itself) and assembles the actions
// dictionary first-seen-wins over the resulting edge order.
func (b *Builder) BuildEdges(ctx context.Context, nodes []models.ScreenNode) (*models.EdgeSet, error) {
	ids := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}

	set := &models.EdgeSet{
		Actions: models.ActionsDictionary{},
		Edges:   make([]models.NavigationEdge, 0),
	}

	nextEdgeID := 1
	for _, node := range nodes {
		if len(nodes) < 2 {
			break
		}

		candidates := make([]models.ScreenNode, 0, len(nodes)-1)
		for _, c := range nodes {
			if c.ID != node.ID {
				candidates = append(candidates, c)
			}
		}

		raw, err := b.inferEdges(ctx, node, candidates)
		if err != nil {
			// One node's failed response drops only that node's edges.
			b.log.Warn("edge inference failed, skipping node",
				"node", node.ID, "error", err)
			b.stats.FailedEdgeNodes++
			continue
		}

		for _, item := range raw.Edges {
			edge, ok := b.validateEdge(node.ID, item, ids)
			if !ok {
				b.stats.DroppedEdges++
				continue
			}
			edge.ID = nextEdgeID
			nextEdgeID++
			set.Edges = append(set.Edges, edge)
			b.stats.Edges++

			// First-seen-wins keeps the dictionary deterministic for a
			// fixed edge ordering.
			if _, seen := set.Actions[edge.ActionKey]; !seen {
				label := edge.ActionDescription
				if label == "" {
					label = edge.ActionKey
				}
				set.Actions[edge.ActionKey] = label
			}
		}
	}

	return set, nil
}

// inferEdges performs one node's edge inference call under the retry policy.
func (b *Builder) inferEdges(ctx context.Context, node models.ScreenNode, candidates []models.ScreenNode) (*edgeResponse, error) {
	var raw edgeResponse

	err := b.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := b.client.Complete(ctx, inference.Request{
			Prompt: edgePrompt(node, candidates),
		})
		if err != nil {
			return err
		}
		b.log.Log(ctx, traceLevel, "edge inference response", "node", node.ID, "response", resp)

		raw = edgeResponse{}
		if err := inference.DecodeStrict(resp, &raw); err != nil {
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &raw, nil
}

// validateEdge applies the edge acceptance policy: destination must be a
// known node id other than source, confidence defaults to 0.5 and is clamped
// to [0,1], and the action key is normalized.
func (b *Builder) validateEdge(sourceID int, item rawEdge, ids map[int]bool) (models.NavigationEdge, bool) {
	dest, ok := asInt(item.Destination)
	if !ok || !ids[dest] || dest == sourceID {
		return models.NavigationEdge{}, false
	}

	confidence, ok := asFloat(item.Confidence)
	if !ok {
		confidence = 0.5
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.NavigationEdge{
		Source:            sourceID,
		Destination:       dest,
		ActionKey:         models.NormalizeActionKey(item.ActionKey, item.ActionDescription),
		ActionDescription: item.ActionDescription,
		Confidence:        confidence,
	}, true
}

// asInt coerces a loosely decoded JSON value into an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// asFloat coerces a loosely decoded JSON value into a float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
