// Package stt provides cloud speech-to-text adapters behind a single interface.
package stt

import (
	"context"
	"net/http"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/config"
)

// Audio is one captured utterance handed to a provider.
type Audio struct {
	Data     []byte
	Filename string // e.g. "recording.webm"
	MimeType string
}

// Provider is the interface for STT implementations.
type Provider interface {
	// ID returns the provider id ("openai", "groq", "siliconflow", "assemblyai").
	ID() string

	// Transcribe sends audio to the remote service and returns the transcript.
	// Credentials are checked before any network I/O.
	Transcribe(ctx context.Context, audio Audio) (string, error)

	// NeedsWAV reports whether audio must be transcoded to 16 kHz mono WAV first.
	NeedsWAV() bool
}

// Options configures a provider instance.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string

	// AssemblyAI
	LanguageDetection           bool
	LanguageConfidenceThreshold float64
	Poller                      Poller

	HTTPClient *http.Client
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// OptionsFromConfig selects the credentials and endpoint for provider id.
func OptionsFromConfig(cfg *config.Config, id string) Options {
	opts := Options{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
	}
	switch id {
	case config.STTOpenAI:
		opts.APIKey, opts.BaseURL, opts.Model = cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel
	case config.STTGroq:
		opts.APIKey, opts.BaseURL, opts.Model = cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel
	case config.STTSiliconFlow:
		opts.APIKey, opts.BaseURL, opts.Model = cfg.SiliconFlowAPIKey, cfg.SiliconFlowBaseURL, cfg.SiliconFlowModel
	case config.STTAssemblyAI:
		opts.APIKey, opts.BaseURL = cfg.AssemblyAIAPIKey, cfg.AssemblyAIBaseURL
		opts.LanguageDetection = cfg.AssemblyAILanguageDetection
		opts.LanguageConfidenceThreshold = cfg.AssemblyAILanguageConfidenceThreshold
		opts.Poller = Poller{
			Attempts: cfg.AssemblyAIPollAttempts,
			Interval: time.Duration(cfg.AssemblyAIPollIntervalMs) * time.Millisecond,
		}
	}
	return opts
}

// displayName is the human name used in error messages.
func displayName(id string) string {
	switch id {
	case config.STTOpenAI:
		return "OpenAI"
	case config.STTGroq:
		return "Groq"
	case config.STTSiliconFlow:
		return "SiliconFlow"
	case config.STTAssemblyAI:
		return "Assembly AI"
	}
	return id
}
