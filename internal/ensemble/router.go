package ensemble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// ReviewState answers whether a category still requires human review
type ReviewState interface {
	ReviewEnabled(ctx context.Context, category model.Category) (bool, error)
}

// Routing is the review decision for one unit
type Routing struct {
	NeedsReview    bool                    `json:"needs_review"`
	CategoryReview map[model.Category]bool `json:"category_review"`
	Reasons        []model.ReviewReason    `json:"reasons,omitempty"`
}

// Router decides whether a decision is auto-accepted or queued for review
type Router struct {
	EntropyThreshold float64
	Supermajority    float64
	MinResponding    int
	State            ReviewState
	Logger           *slog.Logger
}

// Route applies the review triggers in a fixed order:
// accepted categories under review, entropy above threshold, too few responding members,
// and accepted categories below supermajority. State lookup failures keep review on.
//
// An accepted category below supermajority returns the routing together with an error
// wrapping model.ErrInvariantViolation.
func (r Router) Route(ctx context.Context, d Decision, entropy float64, responded int) (Routing, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("component", "router")
	}

	routing := Routing{CategoryReview: make(map[model.Category]bool, len(d.Accepted))}
	var (
		categoryReview bool
		violations     []model.Category
	)

	for _, c := range d.Accepted {
		enabled := true
		if r.State != nil {
			v, err := r.State.ReviewEnabled(ctx, c)
			if err != nil {
				logger.WarnContext(ctx, "handoff state lookup failed, keeping review", "category", c, "error", err)
			} else {
				enabled = v
			}
		}
		routing.CategoryReview[c] = enabled
		if enabled {
			categoryReview = true
		}

		if d.Agreement[c] < r.Supermajority {
			violations = append(violations, c)
			routing.CategoryReview[c] = true
			logger.ErrorContext(ctx, "accepted category below supermajority",
				"category", c, "agreement", d.Agreement[c], "threshold", r.Supermajority)
		}
	}

	if categoryReview {
		routing.Reasons = append(routing.Reasons, model.ReasonCategoryReview)
	}
	if entropy > r.EntropyThreshold {
		routing.Reasons = append(routing.Reasons, model.ReasonHighEntropy)
	}
	if responded < r.MinResponding {
		routing.Reasons = append(routing.Reasons, model.ReasonInsufficientVotes)
	}
	if len(violations) > 0 {
		routing.Reasons = append(routing.Reasons, model.ReasonInvariantViolation)
	}

	routing.NeedsReview = len(routing.Reasons) > 0
	if len(violations) > 0 {
		return routing, fmt.Errorf("%w: accepted below supermajority: %v", model.ErrInvariantViolation, violations)
	}
	return routing, nil
}
