package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// HandoffState keeps category review flags and their audit trail in the same database
// as the samples. It satisfies handoff.State.
type HandoffState struct {
	store      *SQLStore
	categories *model.CategorySet
}

// HandoffState returns the SQL handoff state, seeding categories that have no row yet
func (s *SQLStore) HandoffState(ctx context.Context, categories *model.CategorySet, initial map[model.Category]bool) (*HandoffState, error) {
	now := s.timestamp()
	for _, c := range categories.All() {
		v, ok := initial[c]
		enabled := !ok || v
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO handoff_state (category, review_enabled, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(category) DO NOTHING`,
			string(c), boolInt(enabled), now)
		if err != nil {
			return nil, fmt.Errorf("seed handoff state %s: %w", c, err)
		}
	}
	return &HandoffState{store: s, categories: categories}, nil
}

func (h *HandoffState) ReviewEnabled(ctx context.Context, category model.Category) (bool, error) {
	if !h.categories.Contains(category) {
		return true, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}
	var enabled int
	err := h.store.db.QueryRowContext(ctx,
		`SELECT review_enabled FROM handoff_state WHERE category = ?`, string(category)).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read handoff state: %w", err)
	}
	return enabled == 1, nil
}

func (h *HandoffState) Snapshot(ctx context.Context) (map[model.Category]bool, error) {
	rows, err := h.store.db.QueryContext(ctx, `SELECT category, review_enabled FROM handoff_state`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stored := make(map[model.Category]bool)
	for rows.Next() {
		var (
			c       string
			enabled int
		)
		if err := rows.Scan(&c, &enabled); err != nil {
			return nil, err
		}
		stored[model.Category(c)] = enabled == 1
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[model.Category]bool, h.categories.Len())
	for _, c := range h.categories.All() {
		v, ok := stored[c]
		out[c] = !ok || v
	}
	return out, nil
}

func (h *HandoffState) Promote(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return h.transition(ctx, category, false, actor, reason, mark)
}

func (h *HandoffState) Revert(ctx context.Context, category model.Category, actor, reason string, mark model.MetricsMark) (bool, error) {
	return h.transition(ctx, category, true, actor, reason, mark)
}

func (h *HandoffState) transition(ctx context.Context, category model.Category, to bool, actor, reason string, mark model.MetricsMark) (changed bool, err error) {
	if !h.categories.Contains(category) {
		return false, fmt.Errorf("%w: %q", model.ErrUnknownCategory, category)
	}

	tx, err := h.store.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !changed {
			_ = tx.Rollback()
		}
	}()

	now := h.store.timestamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE handoff_state SET review_enabled = ?, updated_at = ? WHERE category = ? AND review_enabled = ?`,
		boolInt(to), now, string(category), boolInt(!to))
	if err != nil {
		return false, fmt.Errorf("update handoff state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO handoff_events (category, from_enabled, to_enabled, actor, reason, mark_samples, mark_correct, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(category), boolInt(!to), boolInt(to), actor, reason, mark.Samples, mark.Correct, now)
	if err != nil {
		return false, fmt.Errorf("record handoff event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (h *HandoffState) Events(ctx context.Context, category model.Category, limit int) ([]model.HandoffEvent, error) {
	query := `SELECT category, from_enabled, to_enabled, actor, reason, mark_samples, mark_correct, at FROM handoff_events`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]model.HandoffEvent, 0)
	for rows.Next() {
		var (
			e        model.HandoffEvent
			c, at    string
			from, to int
		)
		if err := rows.Scan(&c, &from, &to, &e.Actor, &e.Reason, &e.Mark.Samples, &e.Mark.Correct, &at); err != nil {
			return nil, err
		}
		e.Category = model.Category(c)
		e.From = from == 1
		e.To = to == 1
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
