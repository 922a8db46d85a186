package stt

import (
	"context"
	"fmt"
	"net/http"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

const defaultSiliconFlowModel = "FunAudioLLM/SenseVoiceSmall"

// SiliconFlow implements STT using SiliconFlow's transcription API, which only accepts WAV.
type SiliconFlow struct {
	opts Options
}

// NewSiliconFlow creates a SiliconFlow adapter.
func NewSiliconFlow(opts Options) *SiliconFlow {
	if opts.Model == "" {
		opts.Model = defaultSiliconFlowModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs["siliconflow"]
	}
	return &SiliconFlow{opts: opts}
}

// ID returns "siliconflow".
func (p *SiliconFlow) ID() string { return "siliconflow" }

// NeedsWAV is true.
func (p *SiliconFlow) NeedsWAV() bool { return true }

// Transcribe uploads already-transcoded WAV audio.
func (p *SiliconFlow) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if p.opts.APIKey == "" {
		return "", &ConfigError{Provider: p.ID(), Field: "siliconflowApiKey"}
	}

	body, contentType, err := buildMultipart(
		multipartFile{Field: "file", Filename: "recording.wav", MimeType: "audio/wav", Data: audio.Data},
		[][2]string{{"model", p.opts.Model}},
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

	L_debug("stt: sending audio", "provider", p.ID(), "url", url, "model", p.opts.Model, "bytes", len(audio.Data))

	resp, err := do(p.opts.client(), req, p.ID(), "transcribe")
	if err != nil {
		return "", err
	}
	return parseText(resp, p.ID())
}
