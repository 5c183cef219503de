package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"health-rag/internal/config"
)

// Kind classifies the outcome of one generation call.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindUnavailable
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "malformed"
	}
}

// Result is the typed outcome of a generation call. Text is set only on
// success; Err carries the underlying cause otherwise.
type Result struct {
	Kind Kind
	Text string
	Err  error
}

// Options are the per-call generation parameters.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
	Timeout     time.Duration
}

// Client talks to a local text-generation backend. The model is stateless
// and reentrant; one Client is shared across concurrent queries.
type Client struct {
	model     llms.Model
	baseURL   string
	modelName string
	httpc     *http.Client
}

// NewClient wraps any langchaingo model; tests use it with a fake.
func NewClient(model llms.Model, baseURL, modelName string) *Client {
	return &Client{
		model:     model,
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		httpc:     &http.Client{Timeout: 5 * time.Second},
	}
}

// NewOllama builds a Client backed by a local ollama instance.
func NewOllama(cfg *config.LLMConfig) (*Client, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing generation model: %w", err)
	}
	return NewClient(llm, cfg.BaseURL, cfg.Model), nil
}

// Model returns the backend model identifier.
func (c *Client) Model() string { return c.modelName }

// Generate runs one synchronous completion with the configured timeout.
// Failures come back as typed results, never as fabricated answers.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}

	log.Debug().Msgf("sending generation request to %s", c.modelName)
	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithTemperature(opts.Temperature),
		llms.WithMaxTokens(opts.MaxTokens),
		llms.WithTopP(opts.TopP),
		llms.WithTopK(opts.TopK),
	)
	if err != nil {
		return classify(err)
	}
	if len(resp.Choices) == 0 {
		return Result{Kind: KindMalformed, Err: errors.New("backend returned no choices")}
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return Result{Kind: KindMalformed, Err: errors.New("backend returned an empty completion")}
	}
	return Result{Kind: KindSuccess, Text: text}
}

// classify maps transport failures onto the result taxonomy: deadline and
// net timeouts are timeouts, everything else on the wire means the backend
// is unreachable.
func classify(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Result{Kind: KindTimeout, Err: err}
	}
	return Result{Kind: KindUnavailable, Err: err}
}

// Available reports whether the backend is reachable and has the configured
// model pulled, via the ollama tags endpoint.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if strings.Contains(m.Name, c.modelName) {
			return true
		}
	}
	return false
}
