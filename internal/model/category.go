package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Category is one member of the closed label enumeration
type Category string

// Default categories for therapy literature
const (
	CategoryEfficacyExtent       Category = "efficacy_extent"
	CategoryEfficacyRate         Category = "efficacy_rate"
	CategorySideEffectSeverity   Category = "side_effect_severity"
	CategorySideEffectRisk       Category = "side_effect_risk"
	CategoryCost                 Category = "cost"
	CategoryEffectSizeEvidence   Category = "effect_size_evidence"
	CategoryTrialDesign          Category = "trial_design"
	CategoryTrialLength          Category = "trial_length"
	CategoryNumParticipants      Category = "num_participants"
	CategorySexParticipants      Category = "sex_participants"
	CategoryAgeRangeParticipants Category = "age_range_participants"
	CategoryOtherParticipantInfo Category = "other_participant_info"
	CategoryOtherStudyInfo       Category = "other_study_info"
)

var (
	// ErrUnknownCategory is returned when a name is not part of the configured set
	ErrUnknownCategory = errors.New("model: unknown category")

	// ErrInvalidCategorySet is returned for empty, duplicated or malformed category lists
	ErrInvalidCategorySet = errors.New("model: invalid category set")

	// ErrInvariantViolation marks a broken engine invariant. Callers must treat it as fatal.
	ErrInvariantViolation = errors.New("model: invariant violation")
)

var categoryNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// DefaultCategories returns the built-in category list in canonical order
func DefaultCategories() []Category {
	return []Category{
		CategoryEfficacyExtent,
		CategoryEfficacyRate,
		CategorySideEffectSeverity,
		CategorySideEffectRisk,
		CategoryCost,
		CategoryEffectSizeEvidence,
		CategoryTrialDesign,
		CategoryTrialLength,
		CategoryNumParticipants,
		CategorySexParticipants,
		CategoryAgeRangeParticipants,
		CategoryOtherParticipantInfo,
		CategoryOtherStudyInfo,
	}
}

// CategoryDescriptions are used to build scoring prompts and reviewer help
var CategoryDescriptions = map[Category]string{
	CategoryEfficacyExtent:       "How effective the therapy is (magnitude of benefit)",
	CategoryEfficacyRate:         "Percentage or rate of patients who benefited",
	CategorySideEffectSeverity:   "How severe the side effects are",
	CategorySideEffectRisk:       "Likelihood or frequency of side effects occurring",
	CategoryCost:                 "Financial cost of the therapy or treatment",
	CategoryEffectSizeEvidence:   "Statistical measures of effect size (Cohen's d, odds ratio, etc.)",
	CategoryTrialDesign:          "Study design type (RCT, observational, meta-analysis, etc.)",
	CategoryTrialLength:          "Duration of the study or follow-up period",
	CategoryNumParticipants:      "Number of participants or sample size",
	CategorySexParticipants:      "Gender/sex distribution of participants",
	CategoryAgeRangeParticipants: "Age range or demographics of participants",
	CategoryOtherParticipantInfo: "Other participant characteristics (ethnicity, health status, etc.)",
	CategoryOtherStudyInfo:       "Other relevant study information (location, funding, etc.)",
}

// Describe returns the human-readable description of a category, or its name
func (c Category) Describe() string {
	if d, ok := CategoryDescriptions[c]; ok {
		return d
	}
	return strings.ReplaceAll(string(c), "_", " ")
}

// CategorySet is an ordered, immutable set of categories.
// Iteration order is the configured order and is used everywhere results are listed.
type CategorySet struct {
	ordered []Category
	index   map[Category]int
}

// NewCategorySet validates names and builds a set
func NewCategorySet(names []string) (*CategorySet, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrInvalidCategorySet)
	}

	set := &CategorySet{
		ordered: make([]Category, 0, len(names)),
		index:   make(map[Category]int, len(names)),
	}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if !categoryNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: malformed category name %q", ErrInvalidCategorySet, raw)
		}
		c := Category(name)
		if _, dup := set.index[c]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidCategorySet, name)
		}
		set.index[c] = len(set.ordered)
		set.ordered = append(set.ordered, c)
	}
	return set, nil
}

// MustCategorySet panics on invalid input. Intended for defaults and tests.
func MustCategorySet(names ...string) *CategorySet {
	set, err := NewCategorySet(names)
	if err != nil {
		panic(err)
	}
	return set
}

// DefaultCategorySet returns the set of built-in categories
func DefaultCategorySet() *CategorySet {
	defaults := DefaultCategories()
	names := make([]string, len(defaults))
	for i, c := range defaults {
		names[i] = string(c)
	}
	return MustCategorySet(names...)
}

// All returns a copy of the categories in canonical order
func (s *CategorySet) All() []Category {
	out := make([]Category, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Names returns category names in canonical order
func (s *CategorySet) Names() []string {
	out := make([]string, len(s.ordered))
	for i, c := range s.ordered {
		out[i] = string(c)
	}
	return out
}

// Len returns the number of categories
func (s *CategorySet) Len() int {
	return len(s.ordered)
}

// Contains reports whether c is a member of the set
func (s *CategorySet) Contains(c Category) bool {
	_, ok := s.index[c]
	return ok
}

// Index returns the canonical position of c, or -1
func (s *CategorySet) Index(c Category) int {
	if i, ok := s.index[c]; ok {
		return i
	}
	return -1
}

// Parse validates a single external category name
func (s *CategorySet) Parse(name string) (Category, error) {
	c := Category(strings.TrimSpace(name))
	if !s.Contains(c) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return c, nil
}

// ParseLabels validates external names and returns a de-duplicated label set in canonical order.
// An empty input is a valid "nothing applies" label set and yields an empty, non-nil slice.
func (s *CategorySet) ParseLabels(names []string) ([]Category, error) {
	seen := make(map[Category]bool, len(names))
	for _, name := range names {
		c, err := s.Parse(name)
		if err != nil {
			return nil, err
		}
		seen[c] = true
	}
	return s.canonical(seen), nil
}

// Normalize validates typed categories and returns them de-duplicated in canonical order
func (s *CategorySet) Normalize(cats []Category) ([]Category, error) {
	seen := make(map[Category]bool, len(cats))
	for _, c := range cats {
		if !s.Contains(c) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
		}
		seen[c] = true
	}
	return s.canonical(seen), nil
}

func (s *CategorySet) canonical(seen map[Category]bool) []Category {
	out := make([]Category, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.index[out[i]] < s.index[out[j]]
	})
	return out
}

// ContainsCategory reports whether labels contains c
func ContainsCategory(labels []Category, c Category) bool {
	for _, l := range labels {
		if l == c {
			return true
		}
	}
	return false
}
