package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nholden/screentrail/internal/inference"
	"github.com/nholden/screentrail/internal/models"
	"github.com/nholden/screentrail/internal/retry"
)

// writeScreens creates fake screen image files. The mock client never opens
// them, so the content is irrelevant.
func writeScreens(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestListScreens(t *testing.T) {
	dir := writeScreens(t, "02-cart.png", "01-home.png", "notes.txt", "03-checkout.jpg")

	files, err := ListScreens(dir)
	if err != nil {
		t.Fatalf("ListScreens() error = %v", err)
	}

	want := []string{"01-home.png", "02-cart.png", "03-checkout.jpg"}
	if len(files) != len(want) {
		t.Fatalf("ListScreens() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestListScreens_Empty(t *testing.T) {
	dir := writeScreens(t, "readme.md")

	_, err := ListScreens(dir)
	if !errors.Is(err, models.ErrInputValidation) {
		t.Errorf("ListScreens(no images) error = %v, want ErrInputValidation", err)
	}

	_, err = ListScreens(filepath.Join(dir, "missing"))
	if !errors.Is(err, models.ErrInputValidation) {
		t.Errorf("ListScreens(missing dir) error = %v, want ErrInputValidation", err)
	}
}

func TestBuildNodes(t *testing.T) {
	dir := writeScreens(t, "01-home.png", "02-cart.png")

	// The service suggests its own ids; they must be ignored in favor of
	// positional assignment from the start id.
	client := inference.NewMockClient().WithResponses(
		`{"id": 99, "name": "Home", "description": "landing screen"}`,
		"```json\n{\"id\": 42, \"name\": \"Cart\", \"description\": \"cart contents\"}\n```",
	)

	b := NewBuilder(client, retry.Policy{MaxAttempts: 1}, nil, 10)
	nodes, err := b.BuildNodes(context.Background(), dir, map[string]string{"02-cart.png": "FLOW-7"})
	if err != nil {
		t.Fatalf("BuildNodes() error = %v", err)
	}

	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if nodes[0].ID != 10 || nodes[1].ID != 11 {
		t.Errorf("node ids = %d, %d; want 10, 11", nodes[0].ID, nodes[1].ID)
	}
	if nodes[0].Name != "Home" || nodes[1].Name != "Cart" {
		t.Errorf("node names = %q, %q", nodes[0].Name, nodes[1].Name)
	}
	if nodes[0].SourceFile != "01-home.png" {
		t.Errorf("SourceFile = %q, want 01-home.png", nodes[0].SourceFile)
	}
	if nodes[0].ExternalRef != "" || nodes[1].ExternalRef != "FLOW-7" {
		t.Errorf("external refs = %q, %q; want empty, FLOW-7", nodes[0].ExternalRef, nodes[1].ExternalRef)
	}
	if nodes[0].Fallback || nodes[1].Fallback {
		t.Error("nodes unexpectedly marked fallback")
	}

	stats := b.Stats()
	if stats.Nodes != 2 || stats.FallbackNodes != 0 {
		t.Errorf("stats = %+v, want 2 nodes, 0 fallbacks", stats)
	}
}

func TestBuildNodes_FallbackOnFailure(t *testing.T) {
	dir := writeScreens(t, "checkout_confirmation.png")

	client := inference.NewMockClient().WithError(
		fmt.Errorf("%w: connection refused", inference.ErrExternalService))

	b := NewBuilder(client, retry.Policy{MaxAttempts: 3}, nil, 1)
	nodes, err := b.BuildNodes(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("BuildNodes() error = %v, want graceful fallback", err)
	}

	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	node := nodes[0]
	if !node.Fallback {
		t.Error("Fallback = false, want true")
	}
	if node.ID != 1 {
		t.Errorf("ID = %d, want 1", node.ID)
	}
	if node.Name != "checkout confirmation" {
		t.Errorf("Name = %q, want filename-derived name", node.Name)
	}
	if !strings.Contains(node.Description, "checkout_confirmation.png") {
		t.Errorf("Description = %q, want it to name the source file", node.Description)
	}

	// Transport failures retry up to the bound before degrading.
	if client.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", client.CallCount())
	}
	if b.Stats().FallbackNodes != 1 {
		t.Errorf("FallbackNodes = %d, want 1", b.Stats().FallbackNodes)
	}
}

func TestBuildNodes_SchemaViolationIsPermanent(t *testing.T) {
	dir := writeScreens(t, "home.png")

	client := inference.NewMockClient().WithResponses("I cannot describe this screen.")

	b := NewBuilder(client, retry.Policy{MaxAttempts: 5}, nil, 1)
	nodes, err := b.BuildNodes(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("BuildNodes() error = %v", err)
	}

	if !nodes[0].Fallback {
		t.Error("expected fallback node for unparsable response")
	}
	// A structurally wrong answer is not retried.
	if client.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1", client.CallCount())
	}
}

func TestBuildNodes_MissingName(t *testing.T) {
	dir := writeScreens(t, "home.png")

	client := inference.NewMockClient().WithResponses(`{"description": "nameless"}`)

	b := NewBuilder(client, retry.Policy{MaxAttempts: 2}, nil, 1)
	nodes, err := b.BuildNodes(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("BuildNodes() error = %v", err)
	}
	if !nodes[0].Fallback {
		t.Error("expected fallback node when name is missing")
	}
	if client.CallCount() != 1 {
		t.Errorf("CallCount() = %d, want 1 (schema violations are permanent)", client.CallCount())
	}
}

func threeNodes() []models.ScreenNode {
	return []models.ScreenNode{
		{ID: 1, Name: "Home"},
		{ID: 2, Name: "Cart"},
		{ID: 3, Name: "Checkout"},
	}
}

func TestBuildEdges(t *testing.T) {
	// One response per node, in node order. The batch mixes valid edges with
	// ones that must be dropped: a self-loop, an unknown destination, and a
	// string destination.
	client := inference.NewMockClient().WithResponses(
		`{"edges": [
			{"source": 1, "destination": 2, "action_key": "Tap Cart!", "action_description": "Tap the cart icon", "confidence": 0.9},
			{"source": 1, "destination": 1, "action_key": "refresh", "action_description": "Pull to refresh", "confidence": 0.8}
		]}`,
		`{"edges": [
			{"source": 2, "destination": 3, "action_key": "tap_cart!", "action_description": "Proceed to checkout"},
			{"source": 2, "destination": 99, "action_key": "back", "action_description": "Go somewhere unknown", "confidence": 0.7},
			{"source": 2, "destination": "home", "action_key": "back", "action_description": "Go back", "confidence": 0.7}
		]}`,
		`{"edges": [
			{"source": 3, "destination": 1, "action_key": "done", "action_description": "Return home", "confidence": 7}
		]}`,
	)

	b := NewBuilder(client, retry.Policy{MaxAttempts: 1}, nil, 1)
	set, err := b.BuildEdges(context.Background(), threeNodes())
	if err != nil {
		t.Fatalf("BuildEdges() error = %v", err)
	}

	if len(set.Edges) != 3 {
		t.Fatalf("got %d edges, want 3: %+v", len(set.Edges), set.Edges)
	}

	// Edge ids are sequential in generation order.
	for i, e := range set.Edges {
		if e.ID != i+1 {
			t.Errorf("edge %d has id %d, want %d", i, e.ID, i+1)
		}
	}

	e := set.Edges[0]
	if e.Source != 1 || e.Destination != 2 {
		t.Errorf("edge 0 = %d -> %d, want 1 -> 2", e.Source, e.Destination)
	}
	if e.ActionKey != "tap_cart" {
		t.Errorf("edge 0 ActionKey = %q, want tap_cart", e.ActionKey)
	}
	if e.Confidence != 0.9 {
		t.Errorf("edge 0 Confidence = %v, want 0.9", e.Confidence)
	}

	// Missing confidence defaults to 0.5; out-of-range is clamped.
	if set.Edges[1].Confidence != 0.5 {
		t.Errorf("edge 1 Confidence = %v, want default 0.5", set.Edges[1].Confidence)
	}
	if set.Edges[2].Confidence != 1 {
		t.Errorf("edge 2 Confidence = %v, want clamped 1", set.Edges[2].Confidence)
	}

	// The dictionary holds exactly the action keys of the accepted edges,
	// and the first description seen for a key wins.
	for _, e := range set.Edges {
		if _, ok := set.Actions[e.ActionKey]; !ok {
			t.Errorf("action key %q missing from dictionary", e.ActionKey)
		}
	}
	if len(set.Actions) != 2 {
		t.Errorf("dictionary has %d keys, want 2 (tap_cart, done): %v", len(set.Actions), set.Actions)
	}
	if set.Actions["tap_cart"] != "Tap the cart icon" {
		t.Errorf("Actions[tap_cart] = %q, want first-seen description", set.Actions["tap_cart"])
	}

	stats := b.Stats()
	if stats.Edges != 3 {
		t.Errorf("stats.Edges = %d, want 3", stats.Edges)
	}
	if stats.DroppedEdges != 3 {
		t.Errorf("stats.DroppedEdges = %d, want 3 (self-loop, unknown dest, non-int dest)", stats.DroppedEdges)
	}
}

func TestBuildEdges_FailedNodeSkipped(t *testing.T) {
	client := inference.NewMockClient().WithRespondFunc(func(req inference.Request) (string, error) {
		if strings.Contains(req.Prompt, "name: Cart\n") {
			return "", fmt.Errorf("%w: timeout", inference.ErrExternalService)
		}
		return `{"edges": [{"destination": 2, "action_key": "go", "action_description": "Go", "confidence": 0.6}]}`, nil
	})

	b := NewBuilder(client, retry.Policy{MaxAttempts: 1}, nil, 1)
	set, err := b.BuildEdges(context.Background(), threeNodes())
	if err != nil {
		t.Fatalf("BuildEdges() error = %v", err)
	}

	// Nodes 1 and 3 both target node 2; node 2's own inference failed but
	// must not take the rest of the build with it.
	if len(set.Edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(set.Edges))
	}
	if b.Stats().FailedEdgeNodes != 1 {
		t.Errorf("FailedEdgeNodes = %d, want 1", b.Stats().FailedEdgeNodes)
	}
}

func TestBuildEdges_SingleNode(t *testing.T) {
	client := inference.NewMockClient()

	b := NewBuilder(client, retry.Policy{MaxAttempts: 1}, nil, 1)
	set, err := b.BuildEdges(context.Background(), []models.ScreenNode{{ID: 1, Name: "Only"}})
	if err != nil {
		t.Fatalf("BuildEdges() error = %v", err)
	}
	if len(set.Edges) != 0 {
		t.Errorf("got %d edges for a single-node graph, want 0", len(set.Edges))
	}
	if client.CallCount() != 0 {
		t.Errorf("CallCount() = %d, want 0", client.CallCount())
	}
}
