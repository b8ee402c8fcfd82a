package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/model"
)

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load returns stored metrics for a category, zero-valued when none exist yet
func (s *SQLStore) Load(ctx context.Context, category model.Category) (model.CategoryMetrics, error) {
	return loadMetrics(ctx, s.db, category)
}

func loadMetrics(ctx context.Context, q rowQuerier, category model.Category) (model.CategoryMetrics, error) {
	m := model.CategoryMetrics{Category: category}
	var (
		canAuto     int
		lastUpdated string
	)
	err := q.QueryRowContext(ctx, `SELECT total_samples, true_positives, false_positives, false_negatives,
		true_negatives, precision_score, recall, f1_score, accuracy, can_auto_accept, last_updated
		FROM category_metrics WHERE category = ?`, string(category)).Scan(
		&m.TotalSamples, &m.TruePositive, &m.FalsePositive, &m.FalseNegative, &m.TrueNegative,
		&m.Precision, &m.Recall, &m.F1, &m.Accuracy, &canAuto, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("failed to load metrics: %w", err)
	}
	m.CanAutoAccept = canAuto == 1
	if lastUpdated != "" {
		if t, err := parseTime(lastUpdated); err == nil {
			m.LastUpdated = t
		}
	}
	return m, nil
}

// Apply marks sampleID counted and folds it into every category in one transaction.
// Both DSNs open transactions with BEGIN IMMEDIATE, so the rows read here cannot change
// under another connection or process before they are written back.
// A sample that was already counted returns accuracy.ErrAlreadyCounted and writes nothing.
func (s *SQLStore) Apply(ctx context.Context, sampleID string, categories []model.Category, fold accuracy.Fold) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO metrics_ledger (sample_id, applied_at) VALUES (?, ?) ON CONFLICT(sample_id) DO NOTHING`,
		sampleID, s.timestamp())
	if err != nil {
		return fmt.Errorf("mark sample counted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = fmt.Errorf("%w: %s", accuracy.ErrAlreadyCounted, sampleID)
		return err
	}

	for _, c := range categories {
		var m model.CategoryMetrics
		if m, err = loadMetrics(ctx, tx, c); err != nil {
			return err
		}
		if err = fold(&m); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO category_metrics (category, total_samples, true_positives,
			false_positives, false_negatives, true_negatives, precision_score, recall, f1_score, accuracy,
			can_auto_accept, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(category) DO UPDATE SET
				total_samples = excluded.total_samples,
				true_positives = excluded.true_positives,
				false_positives = excluded.false_positives,
				false_negatives = excluded.false_negatives,
				true_negatives = excluded.true_negatives,
				precision_score = excluded.precision_score,
				recall = excluded.recall,
				f1_score = excluded.f1_score,
				accuracy = excluded.accuracy,
				can_auto_accept = excluded.can_auto_accept,
				last_updated = excluded.last_updated`,
			string(c), m.TotalSamples, m.TruePositive, m.FalsePositive, m.FalseNegative,
			m.TrueNegative, m.Precision, m.Recall, m.F1, m.Accuracy, boolInt(m.CanAutoAccept),
			formatTime(m.LastUpdated))
		if err != nil {
			return fmt.Errorf("update metrics %s: %w", c, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE labeled_samples SET metrics_applied = 1 WHERE id = ?`, sampleID); err != nil {
		return fmt.Errorf("flag sample counted: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics tx: %w", err)
	}
	return nil
}

// Reset clears all metrics and the counted-sample ledger
func (s *SQLStore) Reset(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM category_metrics`,
		`DELETE FROM metrics_ledger`,
		`UPDATE labeled_samples SET metrics_applied = 0`,
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset metrics: %w", err)
		}
	}
	return tx.Commit()
}

var _ accuracy.Ledger = (*SQLStore)(nil)
