package ensemble

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ambrosia-alliance/processor/internal/model"
)

const (
	catA = model.CategoryEfficacyExtent
	catB = model.CategorySideEffectRisk
	catC = model.CategoryCost
)

func voteSet(votes ...[]model.Category) model.VoteSet {
	vs := model.VoteSet{
		Scores: map[string]map[model.Category]float64{},
		Votes:  map[string][]model.Category{},
	}
	for i, v := range votes {
		name := string(rune('a' + i))
		vs.Members = append(vs.Members, name)
		vs.Scores[name] = map[model.Category]float64{}
		vs.Votes[name] = v
	}
	return vs
}

func mustVote(t *testing.T, v Voter, vs model.VoteSet) Decision {
	t.Helper()
	d, err := v.Vote(vs)
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	return d
}

func TestVoter_ClearMajority(t *testing.T) {
	v := NewVoter(0.8, model.DefaultCategorySet())
	d := mustVote(t, v, voteSet(
		[]model.Category{catA, catB},
		[]model.Category{catA},
		[]model.Category{catA, catB},
		[]model.Category{catA},
		[]model.Category{catA, catC},
	))

	if !reflect.DeepEqual(d.Accepted, []model.Category{catA}) {
		t.Errorf("Accepted = %v, want [%s]", d.Accepted, catA)
	}
	want := map[model.Category]float64{catA: 1.0, catB: 0.4, catC: 0.2}
	if !reflect.DeepEqual(d.Agreement, want) {
		t.Errorf("Agreement = %v, want %v", d.Agreement, want)
	}
}

func TestVoter_ThresholdIsInclusive(t *testing.T) {
	v := NewVoter(0.8, model.DefaultCategorySet())
	d := mustVote(t, v, voteSet(
		[]model.Category{catA, catB},
		[]model.Category{catA},
		[]model.Category{catA, catB},
		[]model.Category{catB},
		[]model.Category{catA, catC},
	))

	if d.Agreement[catA] != 0.8 {
		t.Fatalf("agreement(A) = %v, want 0.8", d.Agreement[catA])
	}
	if !model.ContainsCategory(d.Accepted, catA) {
		t.Errorf("A at exactly 0.8 should be accepted, got %v", d.Accepted)
	}
}

func TestVoter_FailedMembersLowerAgreement(t *testing.T) {
	v := NewVoter(0.8, model.DefaultCategorySet())
	vs := voteSet(
		[]model.Category{catA},
		[]model.Category{catA},
		[]model.Category{catA},
		[]model.Category{catA},
		nil,
	)
	// Last member failed: no scores, no votes, still counted in M.
	delete(vs.Scores, "e")
	delete(vs.Votes, "e")

	d := mustVote(t, v, vs)
	if d.Agreement[catA] != 0.8 {
		t.Errorf("agreement(A) = %v, want 0.8 with M=5", d.Agreement[catA])
	}
}

func TestVoter_EmptyAndCanonicalOrder(t *testing.T) {
	set := model.DefaultCategorySet()
	v := NewVoter(0.8, set)

	d := mustVote(t, v, model.VoteSet{})
	if len(d.Accepted) != 0 || len(d.Agreement) != 0 {
		t.Errorf("empty vote set should produce empty decision, got %+v", d)
	}

	d = mustVote(t, v, voteSet(
		[]model.Category{model.CategoryOtherStudyInfo, model.CategoryEfficacyExtent},
		[]model.Category{model.CategoryEfficacyExtent, model.CategoryOtherStudyInfo, model.CategoryEfficacyExtent},
	))
	want := []model.Category{model.CategoryEfficacyExtent, model.CategoryOtherStudyInfo}
	if !reflect.DeepEqual(d.Accepted, want) {
		t.Errorf("Accepted = %v, want %v", d.Accepted, want)
	}
	if d.Agreement[model.CategoryEfficacyExtent] != 1 {
		t.Errorf("duplicate votes from one member must count once, got %v", d.Agreement)
	}
}

func TestVoter_RejectsUnknownCategory(t *testing.T) {
	v := NewVoter(0.8, model.DefaultCategorySet())
	_, err := v.Vote(voteSet(
		[]model.Category{catA},
		[]model.Category{catA, "retired_category"},
	))
	if !errors.Is(err, model.ErrUnknownCategory) {
		t.Errorf("Vote() error = %v, want ErrUnknownCategory", err)
	}
}
