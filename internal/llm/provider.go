package llm

import (
	"context"
	"errors"

	"github.com/ambrosia-alliance/processor/internal/model"
)

// ErrMalformedResponse is returned when a model reply cannot be read as category scores
var ErrMalformedResponse = errors.New("llm: malformed score response")

// Scorer is one ensemble member: it maps a text to an independent score per category
type Scorer interface {
	// Name returns the unique member name used in votes and metrics
	Name() string

	// Score rates text against every requested category in [0,1].
	// Categories missing from the result are treated as 0 by the caller.
	Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error)

	// IsAvailable checks if the member is properly configured and reachable
	IsAvailable(ctx context.Context) bool
}

// ScoreRequest contains the input for one scoring call
type ScoreRequest struct {
	// Text is the unit to classify
	Text string

	// Categories is the closed set the member must score, in canonical order
	Categories []model.Category

	// Prompt overrides the default prompt when non-empty
	Prompt string
}

// ScoreResponse contains raw per-category scores
type ScoreResponse struct {
	// Scores maps category name to probability. Keys are validated by the caller.
	Scores map[string]float64

	// Model is the backend model that produced the scores
	Model string

	// TokensUsed tracks token consumption when the backend reports it
	TokensUsed int
}

// Config holds ensemble member configuration
type Config struct {
	// Name is the member id; defaults to the provider name
	Name string

	// Provider name: "openai", "anthropic", "ollama", "lexicon"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// LexiconPath points at a YAML lexicon for the lexicon provider
	LexiconPath string

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:   30,
		MaxTokens: 400,
	}
}

func (c Config) memberName(fallback string) string {
	if c.Name != "" {
		return c.Name
	}
	return fallback
}

func (c Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 400
}
