package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/providers"
)

// Capability is the rate limit bucket and metrics label for narrative calls
const Capability = "narrative"

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1/chat/completions"
	jsonResponseType = "json_object"
)

// Client calls an OpenAI-compatible chat completion endpoint and returns a
// validated script.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	limiter    providers.Limiter
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter gates every request through limiter.
func WithLimiter(limiter providers.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// NewClient constructs a narrative client using the supplied configuration.
func NewClient(cfg config.ProviderConfig, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	client := &Client{
		cfg:        cfg,
		httpClient: providers.HTTPClient(cfg.Timeout),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the system prompt and the rendered content bundle and returns
// the model's script. Empty or malformed output is a domain.GenerationError.
func (c *Client) Generate(ctx context.Context, systemPrompt, bundle string) (domain.Script, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	bundle = strings.TrimSpace(bundle)
	if systemPrompt == "" {
		return domain.Script{}, errors.New("narrative generate: system prompt required")
	}
	if bundle == "" {
		return domain.Script{}, errors.New("narrative generate: content bundle required")
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: bundle},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	resp, err := providers.PostJSON(ctx, c.httpClient, c.limiter, Capability, c.cfg.BaseURL, c.cfg.APIKey, payload)
	if err != nil {
		return domain.Script{}, err
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(resp.Body, &completion); err != nil {
		return domain.Script{}, domain.NewGenerationError(Capability, "decode response: %v (snippet: %s)", err, providers.Snippet(string(resp.Body)))
	}
	if len(completion.Choices) == 0 {
		return domain.Script{}, domain.NewGenerationError(Capability, "response has no choices")
	}

	choice := completion.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return domain.Script{}, domain.NewGenerationError(Capability, "empty content (finish_reason=%q, refusal=%q)",
			choice.FinishReason, choice.Message.Refusal)
	}

	return ParseScript(content)
}

// ParseScript decodes and validates the model's JSON payload
func ParseScript(content string) (domain.Script, error) {
	var script domain.Script
	if err := providers.DecodeJSON(content, &script); err != nil {
		return domain.Script{}, domain.NewGenerationError(Capability, "parse payload: %v", err)
	}

	script.Script = strings.TrimSpace(script.Script)
	script.Headline = strings.TrimSpace(script.Headline)
	script.Description = strings.TrimSpace(script.Description)

	switch {
	case script.Script == "":
		return domain.Script{}, domain.NewGenerationError(Capability, "script is empty")
	case script.Headline == "":
		return domain.Script{}, domain.NewGenerationError(Capability, "headline is empty")
	}
	if _, err := domain.ParseDialogue(script.Script); err != nil {
		return domain.Script{}, domain.NewGenerationError(Capability, "%v", err)
	}
	return script, nil
}

