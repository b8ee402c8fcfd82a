// Package ensemble combines independent model votes into one auditable multi-label decision.
//
// The flow for one text unit is Collector -> Voter -> Entropy -> Router. Everything after
// the Collector is a pure function of the joined votes and the handoff state.
package ensemble

import (
	"fmt"
	"sort"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// Decision is the voter's output for one unit
type Decision struct {
	Accepted  []model.Category           `json:"accepted"`
	Agreement map[model.Category]float64 `json:"agreement"`
}

// Voter applies per-category supermajority acceptance
type Voter struct {
	Supermajority float64
	Categories    *model.CategorySet
}

// NewVoter creates a voter
func NewVoter(supermajority float64, categories *model.CategorySet) Voter {
	return Voter{Supermajority: supermajority, Categories: categories}
}

// Vote counts member votes per category. Agreement is count/M where M is the configured
// ensemble size, so failed members lower agreement. A category is accepted when its
// agreement reaches the supermajority threshold (inclusive). A vote for a category outside
// the configured set fails with model.ErrUnknownCategory.
func (v Voter) Vote(votes model.VoteSet) (Decision, error) {
	d := Decision{
		Accepted:  []model.Category{},
		Agreement: map[model.Category]float64{},
	}

	m := votes.M()
	if m == 0 {
		return d, nil
	}

	counts := make(map[model.Category]int)
	for _, member := range votes.Members {
		seen := make(map[model.Category]bool)
		for _, c := range votes.Votes[member] {
			if !v.known(c) {
				return Decision{}, fmt.Errorf("%w: %q voted by %s", model.ErrUnknownCategory, c, member)
			}
			if seen[c] {
				continue
			}
			seen[c] = true
			counts[c]++
		}
	}

	for c, n := range counts {
		agreement := float64(n) / float64(m)
		d.Agreement[c] = agreement
		if agreement >= v.Supermajority {
			d.Accepted = append(d.Accepted, c)
		}
	}

	v.sort(d.Accepted)
	return d, nil
}

func (v Voter) known(c model.Category) bool {
	return v.Categories == nil || v.Categories.Contains(c)
}

func (v Voter) sort(cats []model.Category) {
	if v.Categories == nil {
		sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
		return
	}
	sort.Slice(cats, func(i, j int) bool {
		return v.Categories.Index(cats[i]) < v.Categories.Index(cats[j])
	})
}
