package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is a journaled run.
type Run struct {
	ID         string
	Page       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
}

// Record is a journaled event.
type Record struct {
	Seq      int64
	Role     string
	Context  string
	Type     string
	Category string
	Message  string
	Loaded   int
	Total    int
	At       time.Time
}

// ItemRecord is the latest state of a declared item.
type ItemRecord struct {
	Context string
	Index   int
	Kind    string
	Locator string
	State   string
}

// FatalRecord is a context's fatal payload.
type FatalRecord struct {
	Context   string
	Locator   string
	Error     string
	Diagnosis string
	Seq       int64
}

// Runs returns every run, newest first.
//
// Returns an empty slice (not nil) if there are none.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, page, started_at, finished_at, outcome
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
			outcome  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Page, &started, &finished, &outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		r.Outcome = outcome.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Events returns a run's events ordered by seq.
//
// Returns an empty slice (not nil) if the run has none.
func (j *Journal) Events(ctx context.Context, runID string) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, role, context, type, category, message, loaded, total, at
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r  Record
			at string
		)
		if err := rows.Scan(&r.Seq, &r.Role, &r.Context, &r.Type, &r.Category, &r.Message, &r.Loaded, &r.Total, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if r.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parse at: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// Items returns the latest state of a run's declared items, by context
// then declaration order.
func (j *Journal) Items(ctx context.Context, runID string) ([]ItemRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT context, idx, kind, locator, state
		FROM items
		WHERE run_id = ?
		ORDER BY context COLLATE BINARY ASC, idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []ItemRecord{}
	for rows.Next() {
		var r ItemRecord
		if err := rows.Scan(&r.Context, &r.Index, &r.Kind, &r.Locator, &r.State); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// Fatals returns a run's fatal payloads ordered by seq.
func (j *Journal) Fatals(ctx context.Context, runID string) ([]FatalRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT context, locator, error, diagnosis, seq
		FROM fatals
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fatals: %w", err)
	}
	defer rows.Close()

	fatals := []FatalRecord{}
	for rows.Next() {
		var r FatalRecord
		if err := rows.Scan(&r.Context, &r.Locator, &r.Error, &r.Diagnosis, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan fatal: %w", err)
		}
		fatals = append(fatals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fatals: %w", err)
	}
	return fatals, nil
}
