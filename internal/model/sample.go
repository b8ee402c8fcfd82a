package model

import "time"

// Origin locates a text unit inside its source document
type Origin struct {
	Source string `json:"source,omitempty"` // Document identifier or path
	Index  int    `json:"index"`            // Sentence index in source (0-based)
}

// TextUnit is the immutable input to classification
type TextUnit struct {
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
}

// ModelVote is one model's opinion on one category
type ModelVote struct {
	Model    string   `json:"model"`
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

// VoteSet is the joined output of every ensemble member for one text unit
type VoteSet struct {
	Members  []string                        `json:"members"`            // Configured members in order; M = len(Members)
	Scores   map[string]map[Category]float64 `json:"scores"`             // Raw scores of responding members
	Votes    map[string][]Category           `json:"votes"`              // Categories at or above label_threshold, canonical order
	Failures map[string]string               `json:"failures,omitempty"` // Member -> failure reason
}

// M returns the ensemble size
func (v VoteSet) M() int {
	return len(v.Members)
}

// Responded returns the number of members that produced a valid response
func (v VoteSet) Responded() int {
	return len(v.Scores)
}

// ReviewReason is a machine-readable cause for routing a unit to review
type ReviewReason string

const (
	ReasonHighEntropy        ReviewReason = "high_entropy"          // Entropy above threshold
	ReasonCategoryReview     ReviewReason = "category_under_review" // An accepted category still has human review enabled
	ReasonInsufficientVotes  ReviewReason = "insufficient_votes"    // Too few members responded
	ReasonInvariantViolation ReviewReason = "invariant_violation"   // Accepted category below supermajority
	ReasonForced             ReviewReason = "forced"                // Ingest requested review explicitly
)

// EnsembleResult is the auditable decision for one text unit
type EnsembleResult struct {
	Unit           TextUnit             `json:"unit"`
	Accepted       []Category           `json:"accepted"`        // Supermajority categories, canonical order
	Agreement      map[Category]float64 `json:"agreement"`       // Votes/M for every category with at least one vote
	Entropy        float64              `json:"entropy"`         // Bits
	NeedsReview    bool                 `json:"needs_review"`    // Aggregate routing flag
	CategoryReview map[Category]bool    `json:"category_review"` // Per accepted category
	Reasons        []ReviewReason       `json:"reasons,omitempty"`
	Votes          VoteSet              `json:"votes"`
	Responded      int                  `json:"responded"` // Members that returned scores
}

// Provenance records where a sample came from
type Provenance string

const (
	ProvenanceReal      Provenance = "real"
	ProvenanceSynthetic Provenance = "synthetic"
)

// Valid reports whether p is a known provenance
func (p Provenance) Valid() bool {
	return p == ProvenanceReal || p == ProvenanceSynthetic
}

// LabeledSample is the persisted record of an ensemble decision and its eventual review
type LabeledSample struct {
	ID                  string                          `json:"id"`
	Text                string                          `json:"text"`
	Origin              Origin                          `json:"origin"`
	ModelPredictions    map[string][]Category           `json:"model_predictions"`
	ModelScores         map[string]map[Category]float64 `json:"model_scores,omitempty"`
	ModelFailures       map[string]string               `json:"model_failures,omitempty"`
	EnsemblePredictions []Category                      `json:"ensemble_predictions"`
	AgreementScores     map[Category]float64            `json:"agreement_scores"`
	Entropy             float64                         `json:"entropy"`
	NeedsReview         bool                            `json:"needs_review"`
	ReviewReasons       []ReviewReason                  `json:"review_reasons,omitempty"`
	HumanLabels         []Category                      `json:"human_labels"` // nil until reviewed
	Provenance          Provenance                      `json:"provenance"`
	CreatedAt           time.Time                       `json:"created_at"`
	ReviewedAt          *time.Time                      `json:"reviewed_at,omitempty"`
	ReviewedBy          string                          `json:"reviewed_by,omitempty"`
	SkipCount           int                             `json:"skip_count"`
	MetricsApplied      bool                            `json:"metrics_applied"`
}

// Reviewed reports whether human labels have been recorded
func (s *LabeledSample) Reviewed() bool {
	return s.ReviewedAt != nil
}

// AverageAgreement is the mean agreement over voted categories, 0 when nothing was voted
func (s *LabeledSample) AverageAgreement() float64 {
	if len(s.AgreementScores) == 0 {
		return 0
	}
	var sum float64
	for _, a := range s.AgreementScores {
		sum += a
	}
	return sum / float64(len(s.AgreementScores))
}

// NewLabeledSample builds an unreviewed sample from an ensemble decision
func NewLabeledSample(id string, result *EnsembleResult, provenance Provenance, createdAt time.Time) *LabeledSample {
	return &LabeledSample{
		ID:                  id,
		Text:                result.Unit.Text,
		Origin:              result.Unit.Origin,
		ModelPredictions:    result.Votes.Votes,
		ModelScores:         result.Votes.Scores,
		ModelFailures:       result.Votes.Failures,
		EnsemblePredictions: result.Accepted,
		AgreementScores:     result.Agreement,
		Entropy:             result.Entropy,
		NeedsReview:         result.NeedsReview,
		ReviewReasons:       result.Reasons,
		Provenance:          provenance,
		CreatedAt:           createdAt.UTC(),
	}
}

// SampleStats summarises the sample store
type SampleStats struct {
	Total         int `json:"total"`
	Reviewed      int `json:"reviewed"`
	PendingReview int `json:"pending_review"` // needs_review and not yet reviewed
	AutoAccepted  int `json:"auto_accepted"`  // never routed to review and not reviewed
	Synthetic     int `json:"synthetic"`
}
