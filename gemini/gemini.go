// Package gemini provides an enigma provider for the Gemini generateContent API.
package gemini

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

// Provider implements the enigma Provider interface for Gemini models.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	name       string
}

// Config holds configuration for the Gemini provider.
type Config struct {
	APIKey  string
	Model   string        // e.g. "gemini-2.0-flash"
	BaseURL string        // Optional, defaults to the public endpoint
	Timeout time.Duration // Optional, defaults to 120s
}

// New creates a new Gemini provider.
func New(config Config) *Provider {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &Provider{
		apiKey:  config.APIKey,
		model:   config.Model,
		baseURL: config.BaseURL,
		name:    "gemini",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Call sends the request to generateContent and returns the text response.
// Images are attached as inline_data parts ahead of the prompt text.
func (p *Provider) Call(ctx context.Context, req enigma.Request) (*enigma.Response, error) {
	startTime := time.Now()

	capitan.Info(ctx, enigma.ProviderCallStarted,
		enigma.ProviderKey.Field(p.name),
		enigma.ModelKey.Field(p.model),
	)

	var parts []part
	if req.Image != nil {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: req.Image.MIME,
				Data:     req.Image.Base64(),
			},
		})
	}
	parts = append(parts, part{Text: req.Prompt})

	body := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, enigma.FatalProvider(fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, enigma.FatalProvider(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

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
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))

		capitan.Error(ctx, enigma.ProviderCallFailed,
			enigma.ProviderKey.Field(p.name),
			enigma.ModelKey.Field(p.model),
			enigma.HTTPStatusCodeKey.Field(resp.StatusCode),
			enigma.DurationMsKey.Field(int(duration.Milliseconds())),
			enigma.ErrorKey.Field(msg),
		)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, enigma.TransientProvider(fmt.Errorf("gemini: %s", msg))
		}
		return nil, enigma.FatalProvider(fmt.Errorf("gemini: %s", msg))
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, enigma.TransientProvider(fmt.Errorf("parse response: %w", err))
	}
	if len(genResp.Candidates) == 0 {
		return nil, enigma.TransientProvider(fmt.Errorf("no candidates returned"))
	}

	var text string
	for _, pt := range genResp.Candidates[0].Content.Parts {
		text += pt.Text
	}
	if text == "" {
		return nil, enigma.TransientProvider(fmt.Errorf("empty candidate content"))
	}

	duration := time.Since(startTime)
	capitan.Info(ctx, enigma.ProviderCallCompleted,
		enigma.ProviderKey.Field(p.name),
		enigma.ModelKey.Field(p.model),
		enigma.PromptTokensKey.Field(genResp.UsageMetadata.PromptTokenCount),
		enigma.CompletionTokensKey.Field(genResp.UsageMetadata.CandidatesTokenCount),
		enigma.TotalTokensKey.Field(genResp.UsageMetadata.TotalTokenCount),
		enigma.DurationMsKey.Field(int(duration.Milliseconds())),
		enigma.HTTPStatusCodeKey.Field(resp.StatusCode),
	)

	return &enigma.Response{
		Content: text,
		Usage: enigma.TokenUsage{
			Prompt:     genResp.UsageMetadata.PromptTokenCount,
			Completion: genResp.UsageMetadata.CandidatesTokenCount,
			Total:      genResp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// Request/Response types for the generateContent API.

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
