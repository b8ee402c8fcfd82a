package llm

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon_default.yaml
var defaultLexicon []byte

// Lexicon maps categories to weighted cue phrases
type Lexicon struct {
	Terms []LexiconTerm `yaml:"terms"`
}

// LexiconTerm is one cue. Pattern is a case-insensitive regular expression when Regex is set.
type LexiconTerm struct {
	Phrase   string  `yaml:"phrase"`
	Category string  `yaml:"category"`
	Weight   float64 `yaml:"weight"`
	Regex    bool    `yaml:"regex,omitempty"`
}

type compiledTerm struct {
	category string
	weight   float64
	phrase   string
	re       *regexp.Regexp
}

// LoadLexicon reads a lexicon YAML file; an empty path loads the built-in lexicon
func LoadLexicon(path string) (*Lexicon, error) {
	data := defaultLexicon
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lexicon: %w", err)
		}
		data = raw
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon yaml: %w", err)
	}
	if len(lex.Terms) == 0 {
		return nil, fmt.Errorf("lexicon has no terms")
	}
	return &lex, nil
}

// LexiconScorer is an offline ensemble member that scores by cue phrases.
// A category's score is the noisy-or of matched cue weights.
type LexiconScorer struct {
	name  string
	terms []compiledTerm
}

// NewLexiconScorer creates a scorer from config
func NewLexiconScorer(config Config) (*LexiconScorer, error) {
	lex, err := LoadLexicon(config.LexiconPath)
	if err != nil {
		return nil, err
	}
	return NewLexiconScorerFrom(config.memberName("lexicon"), lex)
}

// NewLexiconScorerFrom compiles an in-memory lexicon
func NewLexiconScorerFrom(name string, lex *Lexicon) (*LexiconScorer, error) {
	s := &LexiconScorer{name: name}
	for i, t := range lex.Terms {
		if t.Weight < 0 || t.Weight > 1 {
			return nil, fmt.Errorf("lexicon term %d (%q): weight must be in [0,1]", i, t.Phrase)
		}
		ct := compiledTerm{
			category: strings.TrimSpace(t.Category),
			weight:   t.Weight,
			phrase:   normalizeTextToken(t.Phrase),
		}
		if t.Regex {
			re, err := regexp.Compile("(?i)" + t.Phrase)
			if err != nil {
				return nil, fmt.Errorf("lexicon term %d: %w", i, err)
			}
			ct.re = re
		}
		s.terms = append(s.terms, ct)
	}
	return s, nil
}

// Name returns the member name
func (s *LexiconScorer) Name() string {
	return s.name
}

// IsAvailable is always true for the offline scorer
func (s *LexiconScorer) IsAvailable(ctx context.Context) bool {
	return true
}

// Score matches cue phrases against the text
func (s *LexiconScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := normalizeTextToken(req.Text)
	wanted := make(map[string]bool, len(req.Categories))
	miss := make(map[string]float64, len(req.Categories))
	for _, c := range req.Categories {
		wanted[string(c)] = true
		miss[string(c)] = 1
	}

	for _, t := range s.terms {
		if !wanted[t.category] {
			continue
		}
		matched := false
		if t.re != nil {
			matched = t.re.MatchString(req.Text)
		} else {
			matched = strings.Contains(text, t.phrase)
		}
		if matched {
			miss[t.category] *= 1 - t.weight
		}
	}

	scores := make(map[string]float64, len(miss))
	for c, m := range miss {
		scores[c] = 1 - m
	}

	return &ScoreResponse{Scores: scores, Model: "lexicon"}, nil
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
