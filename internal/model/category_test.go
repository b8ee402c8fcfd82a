package model

import (
	"errors"
	"testing"
)

func TestDefaultCategorySet(t *testing.T) {
	set := DefaultCategorySet()
	if set.Len() != 13 {
		t.Fatalf("expected 13 default categories, got %d", set.Len())
	}
	if set.Index(CategoryEfficacyExtent) != 0 {
		t.Errorf("expected efficacy_extent first, got index %d", set.Index(CategoryEfficacyExtent))
	}
	for _, c := range set.All() {
		if _, ok := CategoryDescriptions[c]; !ok {
			t.Errorf("missing description for %s", c)
		}
	}
}

func TestNewCategorySet_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		names []string
	}{
		{"empty", nil},
		{"duplicate", []string{"cost", "cost"}},
		{"uppercase", []string{"Cost"}},
		{"spaces", []string{"trial design"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCategorySet(tt.names)
			if !errors.Is(err, ErrInvalidCategorySet) {
				t.Errorf("expected ErrInvalidCategorySet, got %v", err)
			}
		})
	}
}

func TestCategorySet_ParseLabels(t *testing.T) {
	set := MustCategorySet("a", "b", "c")

	labels, err := set.ParseLabels([]string{"c", "a", "c"})
	if err != nil {
		t.Fatalf("ParseLabels failed: %v", err)
	}
	if len(labels) != 2 || labels[0] != "a" || labels[1] != "c" {
		t.Errorf("expected [a c], got %v", labels)
	}

	empty, err := set.ParseLabels(nil)
	if err != nil {
		t.Fatalf("ParseLabels(nil) failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil label set, got %#v", empty)
	}

	if _, err := set.ParseLabels([]string{"a", "z"}); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestCategorySet_Normalize(t *testing.T) {
	set := MustCategorySet("a", "b")
	if _, err := set.Normalize([]Category{"b", "x"}); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
	got, err := set.Normalize([]Category{"b", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestCategory_Describe(t *testing.T) {
	if got := CategoryCost.Describe(); got != CategoryDescriptions[CategoryCost] {
		t.Errorf("unexpected description: %s", got)
	}
	if got := Category("dose_schedule").Describe(); got != "dose schedule" {
		t.Errorf("expected fallback description, got %s", got)
	}
}
