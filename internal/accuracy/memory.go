package accuracy

import (
	"context"
	"sync"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// MemoryLedger is an in-process Ledger for tests and one-shot runs
type MemoryLedger struct {
	mu      sync.Mutex
	metrics map[model.Category]model.CategoryMetrics
	counted map[string]bool
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		metrics: make(map[model.Category]model.CategoryMetrics),
		counted: make(map[string]bool),
	}
}

func (l *MemoryLedger) Load(_ context.Context, category model.Category) (model.CategoryMetrics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.metrics[category]
	m.Category = category
	return m, nil
}

func (l *MemoryLedger) Apply(_ context.Context, sampleID string, categories []model.Category, fold Fold) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counted[sampleID] {
		return ErrAlreadyCounted
	}
	updates := make([]model.CategoryMetrics, 0, len(categories))
	for _, c := range categories {
		m := l.metrics[c]
		m.Category = c
		if err := fold(&m); err != nil {
			return err
		}
		updates = append(updates, m)
	}
	l.counted[sampleID] = true
	for _, m := range updates {
		l.metrics[m.Category] = m
	}
	return nil
}

func (l *MemoryLedger) Reset(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = make(map[model.Category]model.CategoryMetrics)
	l.counted = make(map[string]bool)
	return nil
}

// Counted reports whether a sample has contributed to metrics
func (l *MemoryLedger) Counted(sampleID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counted[sampleID]
}
