package stt

import (
	"context"
	"fmt"
	"net/http"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

var defaultModels = map[string]string{
	"openai": "whisper-1",
	"groq":   "whisper-large-v3",
}

var defaultBaseURLs = map[string]string{
	"openai":      "https://api.openai.com/v1",
	"groq":        "https://api.groq.com/openai/v1",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"assemblyai":  "https://api.assemblyai.com/v2",
}

// OpenAICompatible implements STT against an OpenAI-style /audio/transcriptions
// endpoint. Serves both OpenAI and Groq, which accept the capture container directly.
type OpenAICompatible struct {
	id   string
	opts Options
}

// NewOpenAICompatible creates an adapter registered under id ("openai" or "groq").
func NewOpenAICompatible(id string, opts Options) *OpenAICompatible {
	if opts.Model == "" {
		opts.Model = defaultModels[id]
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs[id]
	}
	return &OpenAICompatible{id: id, opts: opts}
}

// ID returns the provider id.
func (p *OpenAICompatible) ID() string { return p.id }

// NeedsWAV is false; webm is accepted as-is.
func (p *OpenAICompatible) NeedsWAV() bool { return false }

// Transcribe uploads the audio as multipart form data.
func (p *OpenAICompatible) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if p.opts.APIKey == "" {
		return "", &ConfigError{Provider: p.id, Field: p.id + "ApiKey"}
	}

	filename := audio.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	mimeType := audio.MimeType
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	body, contentType, err := buildMultipart(
		multipartFile{Field: "file", Filename: filename, MimeType: mimeType, Data: audio.Data},
		[][2]string{{"model", p.opts.Model}, {"response_format", "json"}},
	)
	if err != nil {
		return "", err
	}

	url := joinURL(p.opts.BaseURL, "/audio/transcriptions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	req.Header.Set("Content-Type", contentType)

	L_debug("stt: sending audio", "provider", p.id, "url", url, "model", p.opts.Model, "bytes", len(audio.Data))

	resp, err := do(p.opts.client(), req, p.id, "transcribe")
	if err != nil {
		return "", err
	}
	text, err := parseText(resp, p.id)
	if err != nil {
		return "", err
	}

	L_debug("stt: transcription complete", "provider", p.id, "length", len(text))
	return text, nil
}
