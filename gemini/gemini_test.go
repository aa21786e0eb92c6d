package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quietfold/enigma"
)

func textJSON(text string) string {
	return fmt.Sprintf(`{
		"candidates": [{"content": {"parts": [{"text": %q}]}}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
	}`, text)
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL})
}

func TestCall(t *testing.T) {
	t.Run("successful call", func(t *testing.T) {
		var gotReq generateRequest
		p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.URL.Path, ":generateContent") {
				t.Errorf("path = %q", r.URL.Path)
			}
			if r.URL.Query().Get("key") != "test-key" {
				t.Error("api key missing from query")
			}
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
			io.WriteString(w, textJSON("<answer>\nB\n</answer>"))
		})

		resp, err := p.Call(context.Background(), enigma.Request{
			Prompt:      "solve it",
			Temperature: 0.4,
			MaxTokens:   2048,
		})
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		if resp.Content != "<answer>\nB\n</answer>" {
			t.Errorf("content = %q", resp.Content)
		}
		if resp.Usage.Total != 15 {
			t.Errorf("usage = %+v", resp.Usage)
		}
		if gotReq.GenerationConfig.Temperature != 0.4 {
			t.Errorf("temperature = %v", gotReq.GenerationConfig.Temperature)
		}
		if gotReq.GenerationConfig.MaxOutputTokens != 2048 {
			t.Errorf("max tokens = %d", gotReq.GenerationConfig.MaxOutputTokens)
		}
	})

	t.Run("image attached as inline data", func(t *testing.T) {
		var gotReq generateRequest
		p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotReq)
			io.WriteString(w, textJSON("ok"))
		})

		_, err := p.Call(context.Background(), enigma.Request{
			Prompt: "solve it",
			Image:  &enigma.ImageRef{MIME: "image/jpeg", Data: []byte{9, 9}},
		})
		if err != nil {
			t.Fatalf("Call: %v", err)
		}
		parts := gotReq.Contents[0].Parts
		if len(parts) != 2 {
			t.Fatalf("parts = %d, want 2", len(parts))
		}
		if parts[0].InlineData == nil || parts[0].InlineData.MimeType != "image/jpeg" {
			t.Errorf("first part = %+v", parts[0])
		}
		if parts[1].Text != "solve it" {
			t.Errorf("second part = %+v", parts[1])
		}
	})

	t.Run("rate limit and server errors are transient", func(t *testing.T) {
		for _, code := range []int{429, 500, 503} {
			p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(code)
			})
			_, err := p.Call(context.Background(), enigma.Request{Prompt: "x"})
			if enigma.KindOf(err) != enigma.KindProviderTransient {
				t.Errorf("status %d: kind = %v, want transient", code, enigma.KindOf(err))
			}
		}
	})

	t.Run("client errors are fatal", func(t *testing.T) {
		p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		_, err := p.Call(context.Background(), enigma.Request{Prompt: "x"})
		if enigma.KindOf(err) != enigma.KindProviderFatal {
			t.Errorf("kind = %v, want fatal", enigma.KindOf(err))
		}
	})

	t.Run("no candidates is transient", func(t *testing.T) {
		p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(generateResponse{})
		})
		_, err := p.Call(context.Background(), enigma.Request{Prompt: "x"})
		if enigma.KindOf(err) != enigma.KindProviderTransient {
			t.Errorf("kind = %v, want transient", enigma.KindOf(err))
		}
	})
}

func TestNewDefaults(t *testing.T) {
	p := New(Config{APIKey: "k"})
	if p.model != "gemini-2.0-flash" {
		t.Errorf("model = %q", p.model)
	}
	if p.Name() != "gemini" {
		t.Errorf("name = %q", p.Name())
	}
}
