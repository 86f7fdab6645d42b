package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rshare/internal/events"
)

const timeLayout = time.RFC3339Nano

// StartRun records the beginning of a run. Starting the same run twice is a no-op.
func (j *Journal) StartRun(ctx context.Context, id, page string, at time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, page, started_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, page, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome.
func (j *Journal) FinishRun(ctx context.Context, id, outcome string, at time.Time) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, outcome = ? WHERE id = ?
	`, at.UTC().Format(timeLayout), outcome, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

// WriteEvent appends an event to a run. Item events also update the item's
// latest state; fatal events record the context's fatal payload.
func (j *Journal) WriteEvent(ctx context.Context, runID string, e events.Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, role, context, type, category, message, loaded, total, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		e.Seq,
		string(e.Role),
		e.Context,
		string(e.Type),
		string(e.Category),
		eventMessage(e),
		e.Loaded,
		e.Total,
		e.Time.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	switch {
	case e.Type == events.TypeItem && e.Item != nil:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (run_id, context, idx, kind, locator, state, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, context, idx) DO UPDATE SET state = excluded.state, seq = excluded.seq
			WHERE excluded.seq > items.seq
		`, runID, e.Context, e.Item.Index, e.Item.Kind, e.Item.Locator, e.Item.State, e.Seq)
	case e.Type == events.TypeFatal:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fatals (run_id, context, locator, error, diagnosis, seq)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, context) DO NOTHING
		`, runID, e.Context, e.Locator, errString(e.Err), e.Diagnosis, e.Seq)
	}
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return tx.Commit()
}

// Sink returns an events.Sink that journals into runID. Write failures are
// logged, never propagated to the engine.
func (j *Journal) Sink(runID string) events.Sink {
	return events.SinkFunc(func(e events.Event) {
		if err := j.WriteEvent(context.Background(), runID, e); err != nil {
			slog.Warn("journal write failed", "run", runID, "seq", e.Seq, "error", err)
		}
	})
}

func eventMessage(e events.Event) string {
	switch e.Type {
	case events.TypeProgress:
		return fmt.Sprintf("%d/%d", e.Loaded, e.Total)
	case events.TypeItem:
		if e.Item != nil {
			return fmt.Sprintf("%s:%s -> %s", e.Item.Kind, e.Item.Locator, e.Item.State)
		}
	case events.TypeFatal:
		return errString(e.Err)
	}
	return e.Message
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
