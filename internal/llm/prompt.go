package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ambrosia-alliance/processor/internal/model"
)

const systemPrompt = "You are a careful annotator of medical and therapy literature. You score sentences against a fixed list of categories and reply with JSON only."

// BuildPrompt constructs the default multi-label scoring prompt
func BuildPrompt(text string, categories []model.Category) string {
	var b strings.Builder

	b.WriteString("Score how strongly the sentence below contains information for each category.\n\n")
	b.WriteString("Categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "- %s: %s\n", c, c.Describe())
	}

	b.WriteString(`
RULES:
1. Score every category independently with a probability between 0 and 1.
2. Several categories may apply at once; it is also valid that none apply.
3. Use only the category names listed above as keys.
4. Reply with a single JSON object and nothing else, e.g. {"cost": 0.1, "trial_design": 0.9}.

Sentence:
`)
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")

	return b.String()
}

// ParseScores reads a JSON object of category scores from a model reply.
// Markdown code fences and surrounding prose are tolerated.
func ParseScores(raw string) (map[string]float64, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	// Some models nest the object under "scores"
	if nested, ok := generic["scores"].(map[string]any); ok && len(generic) == 1 {
		generic = nested
	}

	scores := make(map[string]float64, len(generic))
	for key, v := range generic {
		switch n := v.(type) {
		case float64:
			scores[strings.TrimSpace(key)] = n
		case bool:
			if n {
				scores[strings.TrimSpace(key)] = 1
			} else {
				scores[strings.TrimSpace(key)] = 0
			}
		default:
			return nil, fmt.Errorf("%w: non-numeric score for %q", ErrMalformedResponse, key)
		}
	}

	return scores, nil
}
