package batch

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nholden/screentrail/internal/models"
)

// summarySchema holds the flattened tabular projection: one row per persona,
// scalar fields only, for external tabular consumption.
const summarySchema = `
CREATE TABLE IF NOT EXISTS batch_info (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	goal TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	personas INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_rows (
	persona_id INTEGER PRIMARY KEY,
	persona_name TEXT NOT NULL,
	status TEXT NOT NULL,
	steps INTEGER NOT NULL,
	time_sec REAL NOT NULL,
	friction_count INTEGER NOT NULL,
	drop_off_count INTEGER NOT NULL,
	feedback_count INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
`

// WriteSummaryDB writes the batch summary's tabular projection to a SQLite
// database at path, replacing any previous contents.
func WriteSummaryDB(path string, summary *models.BatchSummary) error {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return fmt.Errorf("opening summary database: %w", err)
	}
	defer db.Close()

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, summarySchema); err != nil {
		return fmt.Errorf("initializing summary schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM summary_rows`); err != nil {
		return fmt.Errorf("clearing summary rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_info`); err != nil {
		return fmt.Errorf("clearing batch info: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batch_info (id, goal, source_id, target_id, personas, succeeded, failed)
		 VALUES (1, ?, ?, ?, ?, ?, ?)`,
		summary.Goal, summary.SourceID, summary.TargetID,
		summary.Personas, summary.Succeeded, summary.Failed); err != nil {
		return fmt.Errorf("inserting batch info: %w", err)
	}

	for _, row := range summary.Rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_rows
			 (persona_id, persona_name, status, steps, time_sec,
			  friction_count, drop_off_count, feedback_count, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.PersonaID, row.PersonaName, string(row.Status), row.Steps, row.TimeSec,
			row.FrictionCount, row.DropOffCount, row.FeedbackCount, row.Error); err != nil {
			return fmt.Errorf("inserting summary row for persona %d: %w", row.PersonaID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing summary: %w", err)
	}
	return nil
}
