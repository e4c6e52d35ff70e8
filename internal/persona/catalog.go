// Package persona loads the persona catalog consumed by the traversal
// simulator. Personas come from an external collaborator and are never
// mutated by the core.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nholden/screentrail/internal/models"
)

// Catalog is an ordered list of personas.
type Catalog []models.Persona

// LoadCatalog reads a persona catalog from a JSON or YAML file holding an
// array of personas. The format is chosen by file extension; anything that
// is not .yaml/.yml is parsed as JSON.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading persona catalog %s: %v",
			models.ErrInputValidation, path, err)
	}

	var personas []models.Persona
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &personas)
	default:
		err = json.Unmarshal(data, &personas)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing persona catalog %s: %v",
			models.ErrInputValidation, path, err)
	}

	if len(personas) == 0 {
		return nil, fmt.Errorf("%w: persona catalog %s is empty",
			models.ErrInputValidation, path)
	}

	seen := make(map[int]bool, len(personas))
	for _, p := range personas {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: persona %d has no name", models.ErrInputValidation, p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate persona id %d", models.ErrInputValidation, p.ID)
		}
		seen[p.ID] = true
	}

	return personas, nil
}

// ByID returns the persona with the given id.
func (c Catalog) ByID(id int) (models.Persona, bool) {
	for _, p := range c {
		if p.ID == id {
			return p, true
		}
	}
	return models.Persona{}, false
}
