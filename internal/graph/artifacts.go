// Package graph builds and persists the screen navigation graph: nodes
// inferred from screen images, edges inferred from node descriptions, and
// the deduplicated actions dictionary.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nholden/screentrail/internal/models"
)

// SaveNodes writes the nodes artifact into dir.
func SaveNodes(dir string, nodes []models.ScreenNode) error {
	return writeJSON(filepath.Join(dir, models.NodesFile), nodes)
}

// LoadNodes reads the nodes artifact from dir.
func LoadNodes(dir string) ([]models.ScreenNode, error) {
	path := filepath.Join(dir, models.NodesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrInputValidation, path, err)
	}

	var nodes []models.ScreenNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrInputValidation, path, err)
	}
	return nodes, nil
}

// SaveEdges writes the edges artifact into dir.
func SaveEdges(dir string, set *models.EdgeSet) error {
	return writeJSON(filepath.Join(dir, models.EdgesFile), set)
}

// LoadEdges reads the edges artifact from dir.
func LoadEdges(dir string) (*models.EdgeSet, error) {
	path := filepath.Join(dir, models.EdgesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrInputValidation, path, err)
	}

	var set models.EdgeSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", models.ErrInputValidation, path, err)
	}
	if set.Actions == nil {
		set.Actions = models.ActionsDictionary{}
	}
	return &set, nil
}

// LoadHints reads an optional filename -> external reference manifest,
// produced by the image capture/export step. A missing path returns an
// empty map.
func LoadHints(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading hints manifest %s: %v", models.ErrInputValidation, path, err)
	}

	hints := map[string]string{}
	if err := json.Unmarshal(data, &hints); err != nil {
		return nil, fmt.Errorf("%w: parsing hints manifest %s: %v", models.ErrInputValidation, path, err)
	}
	return hints, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
