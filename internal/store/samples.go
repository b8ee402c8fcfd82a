package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ambrosia-alliance/processor/internal/model"
)

const sampleColumns = `id, text, source, source_index, model_predictions, model_scores, model_failures,
	ensemble_predictions, agreement_scores, entropy, needs_review, review_reasons, human_labels,
	provenance, created_at, reviewed_at, reviewed_by, skip_count, metrics_applied`

// SaveSample inserts a new sample. Samples are never overwritten.
func (s *SQLStore) SaveSample(ctx context.Context, sample *model.LabeledSample) error {
	fields := []any{
		sample.ModelPredictions, sample.ModelScores, sample.ModelFailures,
		sample.EnsemblePredictions, sample.AgreementScores, sample.ReviewReasons,
	}
	encoded := make([]string, len(fields))
	for i, f := range fields {
		v, err := toJSON(f)
		if err != nil {
			return fmt.Errorf("encode sample %s: %w", sample.ID, err)
		}
		encoded[i] = v
	}

	var humanLabels, reviewedAt sql.NullString
	if sample.HumanLabels != nil {
		v, err := toJSON(sample.HumanLabels)
		if err != nil {
			return err
		}
		humanLabels = sql.NullString{String: v, Valid: true}
	}
	if sample.ReviewedAt != nil {
		reviewedAt = sql.NullString{String: formatTime(*sample.ReviewedAt), Valid: true}
	}

	provenance := sample.Provenance
	if provenance == "" {
		provenance = model.ProvenanceReal
	}

	query := `INSERT INTO labeled_samples (` + sampleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sample.ID, sample.Text, sample.Origin.Source, sample.Origin.Index,
		encoded[0], encoded[1], encoded[2], encoded[3], encoded[4],
		sample.Entropy, boolInt(sample.NeedsReview), encoded[5], humanLabels,
		string(provenance), formatTime(sample.CreatedAt), reviewedAt, sample.ReviewedBy,
		sample.SkipCount, boolInt(sample.MetricsApplied),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// GetSample loads one sample by id
func (s *SQLStore) GetSample(ctx context.Context, id string) (*model.LabeledSample, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM labeled_samples WHERE id = ?`, id)
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sample, err
}

// ListPending returns samples awaiting review: highest entropy first, skipped samples last
func (s *SQLStore) ListPending(ctx context.Context, limit int) ([]*model.LabeledSample, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sampleColumns + `
		FROM labeled_samples
		WHERE needs_review = 1 AND human_labels IS NULL
		ORDER BY skip_count > 0, entropy DESC, created_at ASC
		LIMIT ?`
	return s.querySamples(ctx, query, limit)
}

// ListReviewed returns every reviewed sample in review order
func (s *SQLStore) ListReviewed(ctx context.Context) ([]*model.LabeledSample, error) {
	query := `SELECT ` + sampleColumns + `
		FROM labeled_samples
		WHERE human_labels IS NOT NULL
		ORDER BY reviewed_at ASC, id ASC`
	return s.querySamples(ctx, query)
}

// MarkReviewed records human labels once. A second write fails with ErrAlreadyReviewed.
func (s *SQLStore) MarkReviewed(ctx context.Context, id string, labels []model.Category, reviewer string, at time.Time) error {
	if labels == nil {
		labels = []model.Category{}
	}
	encoded, err := toJSON(labels)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE labeled_samples SET human_labels = ?, reviewed_at = ?, reviewed_by = ?
		 WHERE id = ? AND human_labels IS NULL`,
		encoded, formatTime(at), reviewer, id)
	if err != nil {
		return fmt.Errorf("failed to record review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetSample(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyReviewed, id)
}

// IncrementSkip bumps the skip counter of an unreviewed sample and returns the new count
func (s *SQLStore) IncrementSkip(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE labeled_samples SET skip_count = skip_count + 1 WHERE id = ? AND human_labels IS NULL`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to skip sample: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetSample(ctx, id); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %s", ErrAlreadyReviewed, id)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT skip_count FROM labeled_samples WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Stats summarises the sample table
func (s *SQLStore) Stats(ctx context.Context) (model.SampleStats, error) {
	var st model.SampleStats
	var reviewed, pending, auto, synthetic sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		SUM(CASE WHEN human_labels IS NOT NULL THEN 1 ELSE 0 END),
		SUM(CASE WHEN human_labels IS NULL AND needs_review = 1 THEN 1 ELSE 0 END),
		SUM(CASE WHEN human_labels IS NULL AND needs_review = 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN provenance = 'synthetic' THEN 1 ELSE 0 END)
		FROM labeled_samples`).Scan(&st.Total, &reviewed, &pending, &auto, &synthetic)
	if err != nil {
		return st, fmt.Errorf("failed to read stats: %w", err)
	}
	st.Reviewed = int(reviewed.Int64)
	st.PendingReview = int(pending.Int64)
	st.AutoAccepted = int(auto.Int64)
	st.Synthetic = int(synthetic.Int64)
	return st, nil
}

// TrainingRecord is one exported line
type TrainingRecord struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

// ExportJSONL writes reviewed samples as {"text", "labels"} lines and returns the count
func (s *SQLStore) ExportJSONL(ctx context.Context, w io.Writer) (int, error) {
	samples, err := s.ListReviewed(ctx)
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, sample := range samples {
		labels := make([]string, len(sample.HumanLabels))
		for i, c := range sample.HumanLabels {
			labels[i] = string(c)
		}
		if err := enc.Encode(TrainingRecord{Text: sample.Text, Labels: labels}); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(samples), nil
}

func (s *SQLStore) querySamples(ctx context.Context, query string, args ...any) ([]*model.LabeledSample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	samples := make([]*model.LabeledSample, 0)
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (*model.LabeledSample, error) {
	var (
		sample                                         model.LabeledSample
		predictions, scores, failures, ensemble, agree sql.NullString
		reasons, human, reviewedAt                     sql.NullString
		provenance, createdAt                          string
		needsReview, metricsApplied                    int
	)
	err := row.Scan(&sample.ID, &sample.Text, &sample.Origin.Source, &sample.Origin.Index,
		&predictions, &scores, &failures, &ensemble, &agree, &sample.Entropy, &needsReview,
		&reasons, &human, &provenance, &createdAt, &reviewedAt, &sample.ReviewedBy,
		&sample.SkipCount, &metricsApplied)
	if err != nil {
		return nil, err
	}

	targets := []struct {
		raw sql.NullString
		dst any
	}{
		{predictions, &sample.ModelPredictions},
		{scores, &sample.ModelScores},
		{failures, &sample.ModelFailures},
		{ensemble, &sample.EnsemblePredictions},
		{agree, &sample.AgreementScores},
		{reasons, &sample.ReviewReasons},
		{human, &sample.HumanLabels},
	}
	for _, t := range targets {
		if err := fromJSON(t.raw, t.dst); err != nil {
			return nil, fmt.Errorf("decode sample %s: %w", sample.ID, err)
		}
	}
	if human.Valid && sample.HumanLabels == nil {
		sample.HumanLabels = []model.Category{}
	}

	sample.NeedsReview = needsReview == 1
	sample.MetricsApplied = metricsApplied == 1
	sample.Provenance = model.Provenance(provenance)
	if sample.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode sample %s created_at: %w", sample.ID, err)
	}
	if reviewedAt.Valid {
		t, err := parseTime(reviewedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decode sample %s reviewed_at: %w", sample.ID, err)
		}
		sample.ReviewedAt = &t
	}
	return &sample, nil
}
