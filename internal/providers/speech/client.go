package speech

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/cuongbtq/briefcast/internal/config"
	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/providers"
)

// Capability is the rate limit bucket and metrics label for speech calls
const Capability = "speech"

const (
	defaultBaseURL  = "https://api.elevenlabs.io/v1/text-to-dialogue"
	defaultMimeType = "audio/mpeg"
)

// Result is synthesized audio as returned by the provider
type Result struct {
	Audio    []byte
	MimeType string
}

// Client calls a multi-speaker text-to-dialogue endpoint.
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

// NewClient constructs a speech client using the supplied configuration.
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

type dialogueInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type dialogueRequest struct {
	ModelID string          `json:"model_id,omitempty"`
	Inputs  []dialogueInput `json:"inputs"`
}

// Synthesize renders turns with the voice assigned to each speaker
func (c *Client) Synthesize(ctx context.Context, turns []domain.Turn, voices map[string]string) (Result, error) {
	if len(turns) == 0 {
		return Result{}, errors.New("speech synthesize: no dialogue turns")
	}

	inputs := make([]dialogueInput, 0, len(turns))
	for _, turn := range turns {
		voice, ok := voices[turn.Speaker]
		if !ok || voice == "" {
			return Result{}, fmt.Errorf("speech synthesize: no voice assigned to %s", turn.Speaker)
		}
		inputs = append(inputs, dialogueInput{Text: turn.Text, VoiceID: voice})
	}

	resp, err := providers.PostJSON(ctx, c.httpClient, c.limiter, Capability, c.cfg.BaseURL, c.cfg.APIKey,
		dialogueRequest{ModelID: c.cfg.Model, Inputs: inputs})
	if err != nil {
		return Result{}, err
	}

	return parseResult(resp)
}

func parseResult(resp providers.Response) (Result, error) {
	if len(resp.Body) == 0 {
		return Result{}, domain.NewGenerationError(Capability, "empty audio")
	}

	mimeType := defaultMimeType
	if resp.ContentType != "" {
		mediaType, _, err := mime.ParseMediaType(resp.ContentType)
		if err != nil {
			return Result{}, domain.NewGenerationError(Capability, "bad content type %q", resp.ContentType)
		}
		if !strings.HasPrefix(mediaType, "audio/") {
			return Result{}, domain.NewGenerationError(Capability, "expected audio, got %s (snippet: %s)",
				mediaType, providers.Snippet(string(resp.Body)))
		}
		mimeType = mediaType
	}

	return Result{Audio: resp.Body, MimeType: mimeType}, nil
}
