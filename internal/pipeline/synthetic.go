package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// maxSyntheticLine bounds one JSONL record
const maxSyntheticLine = 1 << 20

// syntheticRecord is one line of generator output.
// Generator labels are carried for reference only and never become ground truth.
type syntheticRecord struct {
	Text   string          `json:"text"`
	Labels json.RawMessage `json:"labels,omitempty"`
}

// ParseSynthetic reads JSONL generator output into text units.
// Malformed or empty lines are reported in bad and skipped.
func ParseSynthetic(r io.Reader, source string) (units []model.TextUnit, bad []string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSyntheticLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var rec syntheticRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			bad = append(bad, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		text := strings.Join(strings.Fields(rec.Text), " ")
		if text == "" {
			bad = append(bad, fmt.Sprintf("line %d: empty text", line))
			continue
		}
		units = append(units, model.TextUnit{
			Text:   text,
			Origin: model.Origin{Source: source, Index: line - 1},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read synthetic input: %w", err)
	}
	return units, bad, nil
}
