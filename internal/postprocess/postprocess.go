// Package postprocess rewrites transcripts through an OpenAI-compatible chat model.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/goscribe/internal/config"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	. "github.com/roelfdiedericks/goscribe/internal/metrics"
)

// Placeholder in the user prompt that is replaced by the transcript.
const Placeholder = "{transcript}"

var defaultChatModels = map[string]string{
	config.ChatOpenAI: "gpt-4o-mini",
	config.ChatGroq:   "llama-3.1-70b-versatile",
	config.ChatGemini: "gemini-1.5-flash-002",
}

// ErrMissingKey is wrapped by Error when the chat provider has no API key.
var ErrMissingKey = errors.New("API key is required")

// Error wraps any post-processing failure so callers can tell it apart from STT failures.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("post-processing with %s failed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Processor runs the optional LLM rewrite pass.
type Processor struct {
	// HTTPClient overrides the client handed to go-openai (tests, proxies).
	HTTPClient *http.Client
}

// Enabled reports whether Process would call a model for cfg.
func Enabled(cfg *config.Config) bool {
	return cfg.PostProcessingEnabled && strings.TrimSpace(cfg.PostProcessingPrompt) != ""
}

// BuildPrompt substitutes the transcript into the prompt, or appends it when the
// prompt has no placeholder.
func BuildPrompt(prompt, transcript string) string {
	if strings.Contains(prompt, Placeholder) {
		return strings.ReplaceAll(prompt, Placeholder, transcript)
	}
	return strings.TrimRight(prompt, "\n") + "\n\n" + transcript
}

// Process returns text unchanged, with no side effects, when post-processing is disabled,
// the prompt is empty, or the text is blank. Otherwise it returns the model's rewrite.
func (p *Processor) Process(ctx context.Context, text string, cfg *config.Config) (string, error) {
	if !Enabled(cfg) || strings.TrimSpace(text) == "" {
		return text, nil
	}

	provider := cfg.PostProcessingProviderID
	apiKey, baseURL := credentials(cfg, provider)
	if apiKey == "" {
		return "", &Error{Provider: provider, Err: ErrMissingKey}
	}

	model := cfg.PostProcessingModel
	if model == "" {
		model = defaultChatModels[provider]
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if p != nil && p.HTTPClient != nil {
		clientCfg.HTTPClient = p.HTTPClient
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout()}
	}
	client := openai.NewClientWithConfig(clientCfg)

	L_debug("postprocess: sending transcript", "provider", provider, "model", model, "length", len(text))

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(cfg.PostProcessingPrompt, text)},
		},
	})
	MetricDuration("postprocess", provider, time.Since(start))
	if err != nil {
		MetricFail("postprocess", provider)
		return "", &Error{Provider: provider, Err: err}
	}
	if len(resp.Choices) == 0 {
		MetricFail("postprocess", provider)
		return "", &Error{Provider: provider, Err: errors.New("response has no choices")}
	}
	MetricSuccess("postprocess", provider)

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	L_debug("postprocess: rewrite complete", "provider", provider, "length", len(out))
	return out, nil
}

func credentials(cfg *config.Config, provider string) (apiKey, baseURL string) {
	switch provider {
	case config.ChatOpenAI:
		return cfg.OpenAIAPIKey, cfg.OpenAIBaseURL
	case config.ChatGroq:
		return cfg.GroqAPIKey, cfg.GroqBaseURL
	case config.ChatGemini:
		return cfg.GeminiAPIKey, cfg.GeminiBaseURL
	}
	return "", ""
}
