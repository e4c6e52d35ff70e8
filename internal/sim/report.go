package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nholden/screentrail/internal/models"
)

// SaveReport writes the run's report artifact into dir. Each run writes
// exactly one report.
func SaveReport(dir string, report models.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, models.ReportFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// LoadReport reads a run's report artifact from dir.
func LoadReport(dir string) (models.RunReport, error) {
	path := filepath.Join(dir, models.ReportFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RunReport{}, fmt.Errorf("%w: reading %s: %v",
			models.ErrInputValidation, path, err)
	}

	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.RunReport{}, fmt.Errorf("%w: parsing %s: %v",
			models.ErrInputValidation, path, err)
	}
	return report, nil
}
