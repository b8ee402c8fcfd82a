package model

import "time"

// Outcome is the confusion-matrix cell one sample contributes to one category
type Outcome string

const (
	OutcomeTruePositive  Outcome = "tp"
	OutcomeFalsePositive Outcome = "fp"
	OutcomeFalseNegative Outcome = "fn"
	OutcomeTrueNegative  Outcome = "tn"
)

// Classify compares the ensemble decision with ground truth for one category
func Classify(predicted, actual bool) Outcome {
	switch {
	case predicted && actual:
		return OutcomeTruePositive
	case predicted && !actual:
		return OutcomeFalsePositive
	case !predicted && actual:
		return OutcomeFalseNegative
	default:
		return OutcomeTrueNegative
	}
}

// CategoryMetrics accumulates confirmed outcomes for a single category
type CategoryMetrics struct {
	Category      Category  `json:"category"`
	TotalSamples  int       `json:"total_samples"`
	TruePositive  int       `json:"true_positives"`
	FalsePositive int       `json:"false_positives"`
	FalseNegative int       `json:"false_negatives"`
	TrueNegative  int       `json:"true_negatives"`
	Precision     float64   `json:"precision"`
	Recall        float64   `json:"recall"`
	F1            float64   `json:"f1_score"`
	Accuracy      float64   `json:"accuracy"`
	CanAutoAccept bool      `json:"can_auto_accept"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Observe folds one outcome into the counts and refreshes derived ratios
func (m *CategoryMetrics) Observe(o Outcome) {
	switch o {
	case OutcomeTruePositive:
		m.TruePositive++
	case OutcomeFalsePositive:
		m.FalsePositive++
	case OutcomeFalseNegative:
		m.FalseNegative++
	default:
		m.TrueNegative++
	}
	m.TotalSamples++
	m.Recompute()
}

// Recompute derives precision, recall, F1 and accuracy. Zero denominators yield 0.
func (m *CategoryMetrics) Recompute() {
	m.Precision = ratio(m.TruePositive, m.TruePositive+m.FalsePositive)
	m.Recall = ratio(m.TruePositive, m.TruePositive+m.FalseNegative)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	} else {
		m.F1 = 0
	}
	m.Accuracy = ratio(m.TruePositive+m.TrueNegative, m.TotalSamples)
}

// Consistent reports whether the four counts add up to the total
func (m *CategoryMetrics) Consistent() bool {
	return m.TruePositive+m.FalsePositive+m.FalseNegative+m.TrueNegative == m.TotalSamples
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// HandoffCriteria are the evidence requirements for auto-accepting a category
type HandoffCriteria struct {
	MinSamples        int     `json:"min_samples" yaml:"min_samples"`
	AccuracyThreshold float64 `json:"accuracy_threshold" yaml:"accuracy_threshold"`
}

// Eligible reports whether metrics meet both requirements (inclusive)
func (c HandoffCriteria) Eligible(m CategoryMetrics) bool {
	return m.TotalSamples >= c.MinSamples && m.Accuracy >= c.AccuracyThreshold
}

// SamplesNeeded returns how many more confirmed samples the category needs
func (c HandoffCriteria) SamplesNeeded(m CategoryMetrics) int {
	if m.TotalSamples >= c.MinSamples {
		return 0
	}
	return c.MinSamples - m.TotalSamples
}

// AccuracyGap returns how far accuracy is below the threshold, 0 when met
func (c HandoffCriteria) AccuracyGap(m CategoryMetrics) float64 {
	if m.Accuracy >= c.AccuracyThreshold {
		return 0
	}
	return c.AccuracyThreshold - m.Accuracy
}

// HandoffStatus is the externally visible review mode of a category
type HandoffStatus string

const (
	StatusReviewRequired HandoffStatus = "REVIEW_REQUIRED"
	StatusAutoAccept     HandoffStatus = "AUTO_ACCEPT"
)

// StatusFor maps the human_review_enabled flag to a status
func StatusFor(reviewEnabled bool) HandoffStatus {
	if reviewEnabled {
		return StatusReviewRequired
	}
	return StatusAutoAccept
}

// MetricsMark is a category's confirmed-sample totals at the moment of a handoff transition
type MetricsMark struct {
	Samples int `json:"samples"`
	Correct int `json:"correct"`
}

// MarkOf records the current totals of m
func MarkOf(m CategoryMetrics) MetricsMark {
	return MetricsMark{Samples: m.TotalSamples, Correct: m.TruePositive + m.TrueNegative}
}

// Since returns the evidence gathered after mark: sample count and accuracy over those
// samples only. A mark ahead of m (metrics were rebuilt) yields zero samples.
func (mark MetricsMark) Since(m CategoryMetrics) CategoryMetrics {
	out := CategoryMetrics{Category: m.Category, LastUpdated: m.LastUpdated}
	samples := m.TotalSamples - mark.Samples
	correct := m.TruePositive + m.TrueNegative - mark.Correct
	if samples <= 0 || correct < 0 {
		return out
	}
	out.TotalSamples = samples
	out.Accuracy = ratio(correct, samples)
	return out
}

// HandoffEvent is one audited transition of a category's review flag
type HandoffEvent struct {
	Category Category    `json:"category"`
	From     bool        `json:"from_review_enabled"`
	To       bool        `json:"to_review_enabled"`
	Actor    string      `json:"actor"`
	Reason   string      `json:"reason"`
	Mark     MetricsMark `json:"mark"`
	At       time.Time   `json:"at"`
}
