package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/providers"
)

// Capability is the rate limit bucket and metrics label for image calls
const Capability = "image"

const (
	defaultBaseURL = "https://api.openai.com/v1/images/generations"
	defaultSize    = "1024x1024"
)

// Result is a generated image
type Result struct {
	Data     []byte
	MimeType string
}

// Client calls an OpenAI-compatible image generation endpoint.
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

// NewClient constructs an image client using the supplied configuration.
func NewClient(cfg config.ProviderConfig, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Size == "" {
		cfg.Size = defaultSize
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

type generationRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate renders one cover image for prompt
func (c *Client) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, errors.New("image generate: prompt required")
	}

	resp, err := providers.PostJSON(ctx, c.httpClient, c.limiter, Capability, c.cfg.BaseURL, c.cfg.APIKey,
		generationRequest{
			Model:          c.cfg.Model,
			Prompt:         prompt,
			Size:           c.cfg.Size,
			N:              1,
			ResponseFormat: "b64_json",
		})
	if err != nil {
		return Result{}, err
	}

	var parsed generationResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return Result{}, domain.NewGenerationError(Capability, "decode response: %v", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return Result{}, domain.NewGenerationError(Capability, "response has no image data")
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return Result{}, domain.NewGenerationError(Capability, "decode image: %v", err)
	}

	return Result{Data: data, MimeType: http.DetectContentType(data)}, nil
}
