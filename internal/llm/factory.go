package llm

import (
	"fmt"
	"strings"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// NewScorer creates an ensemble member based on configuration
func NewScorer(config Config) (Scorer, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIScorer(config)

	case "anthropic", "claude":
		return NewAnthropicScorer(config)

	case "ollama":
		return NewOllamaScorer(config)

	case "lexicon", "keyword":
		return NewLexiconScorer(config)

	default:
		return nil, fmt.Errorf("unknown model provider: %q (supported: openai, anthropic, ollama, lexicon)", config.Provider)
	}
}

// ConfigFromModel converts a configured member to llm.Config
func ConfigFromModel(m model.ModelConfig) Config {
	return Config{
		Name:        m.Name,
		Provider:    m.Provider,
		Model:       m.Model,
		APIKey:      m.APIKey(),
		BaseURL:     m.BaseURL,
		Timeout:     m.Timeout,
		MaxTokens:   m.MaxTokens,
		LexiconPath: m.LexiconPath,
		HTTPProxy:   m.HTTPProxy,
		HTTPSProxy:  m.HTTPSProxy,
		NoProxy:     m.NoProxy,
	}
}

// NewEnsemble builds every configured member in order.
// Construction errors are fatal; runtime failures are handled per call by the collector.
func NewEnsemble(members []model.ModelConfig) ([]Scorer, error) {
	scorers := make([]Scorer, 0, len(members))
	for _, m := range members {
		s, err := NewScorer(ConfigFromModel(m))
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		scorers = append(scorers, s)
	}
	return scorers, nil
}
