package postprocess

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/roelfdiedericks/goscribe/internal/config"
)

// countingTransport fails the test if any request is made.
type countingTransport struct{ calls atomic.Int32 }

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected network call")
}

func TestIdentityWhenDisabled(t *testing.T) {
	rt := &countingTransport{}
	p := &Processor{HTTPClient: &http.Client{Transport: rt}}

	disabled := config.Defaults()
	disabled.OpenAIAPIKey = "k"
	disabled.PostProcessingPrompt = "Fix grammar: {transcript}"

	emptyPrompt := config.Defaults()
	emptyPrompt.PostProcessingEnabled = true
	emptyPrompt.OpenAIAPIKey = "k"

	for _, cfg := range []*config.Config{disabled, emptyPrompt} {
		for _, in := range []string{"", "hello", "  spaced  ", "多语言 text\n"} {
			got, err := p.Process(context.Background(), in, cfg)
			if err != nil {
				t.Fatalf("Process(%q): %v", in, err)
			}
			if got != in {
				t.Errorf("Process(%q) = %q, want identity", in, got)
			}
		}
	}
	if n := rt.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestBuildPrompt(t *testing.T) {
	if got := BuildPrompt("Fix: {transcript}!", "hi"); got != "Fix: hi!" {
		t.Errorf("placeholder = %q", got)
	}
	if got := BuildPrompt("Fix grammar.\n", "hi"); got != "Fix grammar.\n\nhi" {
		t.Errorf("append = %q", got)
	}
}

func TestProcessRewrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llama-3.1-70b-versatile" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "Clean up: um hello" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Hello. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.PostProcessingEnabled = true
	cfg.PostProcessingProviderID = config.ChatGroq
	cfg.PostProcessingPrompt = "Clean up: {transcript}"
	cfg.GroqAPIKey = "gsk"
	cfg.GroqBaseURL = srv.URL

	got, err := (&Processor{}).Process(context.Background(), "um hello", cfg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "Hello." {
		t.Errorf("got %q, want %q", got, "Hello.")
	}
}

func TestProcessFailureIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.PostProcessingEnabled = true
	cfg.PostProcessingPrompt = "x"
	cfg.OpenAIAPIKey = "k"
	cfg.OpenAIBaseURL = srv.URL

	_, err := (&Processor{}).Process(context.Background(), "text", cfg)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if pe.Provider != config.ChatOpenAI {
		t.Errorf("Provider = %q", pe.Provider)
	}
}

func TestProcessMissingKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.PostProcessingEnabled = true
	cfg.PostProcessingProviderID = config.ChatGemini
	cfg.PostProcessingPrompt = "x"

	_, err := (&Processor{}).Process(context.Background(), "text", cfg)
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("err = %v, want ErrMissingKey", err)
	}
}
