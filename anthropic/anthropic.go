// Package anthropic provides an enigma provider for the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zoobzio/capitan"

	"github.com/quietfold/enigma"
)

// Provider implements the enigma Provider interface for Anthropic models.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	name       string
}

// Config holds configuration for the Anthropic provider.
type Config struct {
	APIKey  string
	Model   string        // e.g. "claude-3-5-haiku-20241022"
	BaseURL string        // Optional, defaults to "https://api.anthropic.com"
	Timeout time.Duration // Optional, defaults to 120s
}

// New creates a new Anthropic provider.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-3-5-haiku-20241022"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &Provider{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		name:    "anthropic",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Call sends the request to the Messages API and returns the text response.
// When the request carries an image it is attached as a base64 content
// block ahead of the prompt text.
func (p *Provider) Call(ctx context.Context, req enigma.Request) (*enigma.Response, error) {
	startTime := time.Now()

	capitan.Info(ctx, enigma.ProviderCallStarted,
		enigma.ProviderKey.Field(p.name),
		enigma.ModelKey.Field(p.model),
	)

	var content []contentBlock
	if req.Image != nil {
		content = append(content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: req.Image.MIME,
				Data:      req.Image.Base64(),
			},
		})
	}
	content = append(content, contentBlock{Type: "text", Text: req.Prompt})

	body := messagesRequest{
		Model:       p.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []message{
			{Role: "user", Content: content},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, enigma.FatalProvider(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, enigma.FatalProvider(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, enigma.TransientProvider(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, enigma.TransientProvider(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		duration := time.Since(startTime)
		var errResp errorResponse
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			msg = fmt.Sprintf("%s (%d): %s", errResp.Error.Type, resp.StatusCode, errResp.Error.Message)
		}

		capitan.Error(ctx, enigma.ProviderCallFailed,
			enigma.ProviderKey.Field(p.name),
			enigma.ModelKey.Field(p.model),
			enigma.HTTPStatusCodeKey.Field(resp.StatusCode),
			enigma.DurationMsKey.Field(int(duration.Milliseconds())),
			enigma.ErrorKey.Field(msg),
		)

		if retryableStatus(resp.StatusCode) {
			return nil, enigma.TransientProvider(fmt.Errorf("anthropic: %s", msg))
		}
		return nil, enigma.FatalProvider(fmt.Errorf("anthropic: %s", msg))
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, enigma.TransientProvider(fmt.Errorf("parse response: %w", err))
	}

	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, enigma.TransientProvider(fmt.Errorf("empty response content"))
	}

	duration := time.Since(startTime)
	capitan.Info(ctx, enigma.ProviderCallCompleted,
		enigma.ProviderKey.Field(p.name),
		enigma.ModelKey.Field(msgResp.Model),
		enigma.PromptTokensKey.Field(msgResp.Usage.InputTokens),
		enigma.CompletionTokensKey.Field(msgResp.Usage.OutputTokens),
		enigma.TotalTokensKey.Field(msgResp.Usage.InputTokens+msgResp.Usage.OutputTokens),
		enigma.DurationMsKey.Field(int(duration.Milliseconds())),
		enigma.HTTPStatusCodeKey.Field(resp.StatusCode),
	)

	return &enigma.Response{
		Content: text,
		Usage: enigma.TokenUsage{
			Prompt:     msgResp.Usage.InputTokens,
			Completion: msgResp.Usage.OutputTokens,
			Total:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
		},
	}, nil
}

// retryableStatus reports whether the HTTP status is worth retrying:
// rate limits, overloaded, and server errors.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == 529 || code >= 500
}

// Request/Response types for the Messages API.

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   usage          `json:"usage"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
