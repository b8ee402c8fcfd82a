package accuracy

import (
	"fmt"
	"math"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// ReportStatus summarises how close a category is to handoff
type ReportStatus string

const (
	StatusNoData        ReportStatus = "no_data"
	StatusNeedsMoreData ReportStatus = "needs_more_data"
	StatusReady         ReportStatus = "ready"       // Eligible but still reviewed
	StatusAutoAccept    ReportStatus = "auto_accept" // Already handed off
)

// CategoryReport is the operator view of one category
type CategoryReport struct {
	Category       model.Category        `json:"category"`
	Status         ReportStatus          `json:"status"`
	Handoff        model.HandoffStatus   `json:"handoff_status"`
	Metrics        model.CategoryMetrics `json:"metrics"`
	SamplesNeeded  int                   `json:"samples_needed"`
	AccuracyGap    float64               `json:"accuracy_gap"` // Percentage points, rounded to 2 decimals
	Recommendation string                `json:"recommendation"`
}

// Summary counts categories by review mode
type Summary struct {
	Categories     int              `json:"categories"`
	AutoAccepted   int              `json:"auto_accepted"`
	UnderReview    int              `json:"under_review"`
	ReadyToHandoff int              `json:"ready_to_handoff"`
	Reports        []CategoryReport `json:"reports"`
}

// BuildReport describes one category given its metrics and current review flag
func BuildReport(m model.CategoryMetrics, reviewEnabled bool, criteria model.HandoffCriteria) CategoryReport {
	r := CategoryReport{
		Category: m.Category,
		Handoff:  model.StatusFor(reviewEnabled),
		Metrics:  m,
	}

	if !reviewEnabled {
		r.Status = StatusAutoAccept
		r.Recommendation = "Category is auto-accepted; revert to re-enable review"
		return r
	}

	if m.TotalSamples == 0 {
		r.Status = StatusNoData
		r.SamplesNeeded = criteria.MinSamples
		r.AccuracyGap = round2(criteria.AccuracyThreshold * 100)
		r.Recommendation = "No labeled samples for this category yet"
		return r
	}

	r.SamplesNeeded = criteria.SamplesNeeded(m)
	gap := criteria.AccuracyGap(m)
	r.AccuracyGap = round2(gap * 100)

	switch {
	case criteria.Eligible(m):
		r.Status = StatusReady
		r.Recommendation = "Category is ready for auto-accept"
	case r.SamplesNeeded > 0:
		r.Status = StatusNeedsMoreData
		r.Recommendation = fmt.Sprintf("Need %d more labeled samples", r.SamplesNeeded)
	default:
		r.Status = StatusNeedsMoreData
		r.Recommendation = fmt.Sprintf("Need %.1f%% accuracy improvement", gap*100)
	}
	return r
}

// Summarise builds reports for every category in order
func Summarise(metrics []model.CategoryMetrics, reviewEnabled map[model.Category]bool, criteria model.HandoffCriteria) Summary {
	s := Summary{Categories: len(metrics)}
	for _, m := range metrics {
		enabled, ok := reviewEnabled[m.Category]
		if !ok {
			enabled = true
		}
		r := BuildReport(m, enabled, criteria)
		switch r.Status {
		case StatusAutoAccept:
			s.AutoAccepted++
		case StatusReady:
			s.ReadyToHandoff++
			s.UnderReview++
		default:
			s.UnderReview++
		}
		s.Reports = append(s.Reports, r)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
