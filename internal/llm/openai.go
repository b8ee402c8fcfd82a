package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ambrosia-alliance/processor/internal/util"
	"github.com/sashabaranov/go-openai"
)

// OpenAIScorer implements the Scorer interface for OpenAI and compatible endpoints
type OpenAIScorer struct {
	client *openai.Client
	config Config
}

// NewOpenAIScorer creates a new OpenAI scorer
func NewOpenAIScorer(config Config) (*OpenAIScorer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for member %q", config.memberName("openai"))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
		},
	}

	return &OpenAIScorer{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the member name
func (p *OpenAIScorer) Name() string {
	return p.config.memberName("openai")
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIScorer) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.ListModels(ctx); err != nil {
		slog.Default().WarnContext(ctx, "openai availability check failed", "member", p.Name(), "error", err)
		return false
	}
	return true
}

// Score rates the text using the Chat Completions API in JSON mode
func (p *OpenAIScorer) Score(ctx context.Context, req ScoreRequest) (*ScoreResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req.Text, req.Categories)
	}

	model := p.config.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: p.config.maxTokens(),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices from OpenAI", ErrMalformedResponse)
	}

	scores, err := ParseScores(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return &ScoreResponse{
		Scores:     scores,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
