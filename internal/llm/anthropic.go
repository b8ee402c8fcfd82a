package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ambrosia-alliance/processor/internal/util"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicScorer implements the Scorer interface for Anthropic Claude models
type AnthropicScorer struct {
	client anthropic.Client
	config Config
}

// NewAnthropicScorer creates a new Anthropic scorer
func NewAnthropicScorer(config Config) (*AnthropicScorer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for member %q", config.memberName("anthropic"))
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(1),
		option.WithRequestTimeout(timeout),
		option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
			},
		}),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.BaseURL, "/")+"/"))
	}

	return &AnthropicScorer{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Name returns the member name
func (p *AnthropicScorer) Name() string {
	return p.config.memberName("anthropic")
}

// IsAvailable checks if the API key is accepted
func (p *AnthropicScorer) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		slog.Default().WarnContext(ctx, "anthropic availability check failed", "member", p.Name(), "error", err)
		return false
	}
	return true
}

// Score rates the text using the Messages API
func (p *AnthropicScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Text, req.Categories)
	}

	model := p.config.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(p.config.maxTokens()),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type != "text" {
			continue
		}
		scores, err := ParseScores(block.Text)
		if err != nil {
			return nil, err
		}
		return &ScoreResponse{
			Scores:     scores,
			Model:      string(message.Model),
			TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
		}, nil
	}

	return nil, fmt.Errorf("%w: no text content in Anthropic response", ErrMalformedResponse)
}
