package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// AssemblyAI job states.
const (
	statusQueued     = "queued"
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

// AssemblyAI implements STT with AssemblyAI's upload, submit and poll flow.
type AssemblyAI struct {
	opts Options
}

// NewAssemblyAI creates an AssemblyAI adapter.
func NewAssemblyAI(opts Options) *AssemblyAI {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs["assemblyai"]
	}
	if opts.LanguageConfidenceThreshold == 0 {
		opts.LanguageConfidenceThreshold = 0.7
	}
	return &AssemblyAI{opts: opts}
}

// ID returns "assemblyai".
func (p *AssemblyAI) ID() string { return "assemblyai" }

// NeedsWAV is false; the raw capture is uploaded.
func (p *AssemblyAI) NeedsWAV() bool { return false }

type transcriptRequest struct {
	AudioURL                    string  `json:"audio_url"`
	FormatText                  bool    `json:"format_text"`
	LanguageDetection           bool    `json:"language_detection"`
	LanguageConfidenceThreshold float64 `json:"language_confidence_threshold"`
	Punctuate                   bool    `json:"punctuate"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe uploads the audio, submits a transcript job and polls it to completion.
func (p *AssemblyAI) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if p.opts.APIKey == "" {
		return "", &ConfigError{Provider: p.ID(), Field: "assemblyaiApiKey"}
	}

	audioURL, err := p.upload(ctx, audio.Data)
	if err != nil {
		return "", err
	}

	job, err := p.submit(ctx, audioURL)
	if err != nil {
		return "", err
	}
	L_debug("stt: assemblyai job submitted", "id", job.ID, "status", job.Status)

	switch job.Status {
	case statusCompleted:
		return job.Text, nil
	case statusError:
		return "", &JobError{Provider: p.ID(), ID: job.ID, Detail: job.Error}
	case statusQueued, statusProcessing:
	default:
		// Unknown initial status with no id to poll: treat the body as final.
		if job.ID == "" {
			return job.Text, nil
		}
	}

	var text string
	err = p.opts.Poller.Poll(ctx, p.ID(), func(ctx context.Context) (bool, error) {
		st, err := p.status(ctx, job.ID)
		if err != nil {
			return false, err
		}
		L_trace("stt: assemblyai status", "id", job.ID, "status", st.Status)
		switch st.Status {
		case statusCompleted:
			text = st.Text
			return true, nil
		case statusError:
			return false, &JobError{Provider: p.ID(), ID: job.ID, Detail: st.Error}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *AssemblyAI) upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(p.opts.BaseURL, "/upload"), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", p.opts.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	body, err := do(p.opts.client(), req, p.ID(), "upload")
	if err != nil {
		return "", err
	}
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("assemblyai upload: parse response: %w", err)
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("assemblyai upload: response has no upload_url")
	}
	return out.UploadURL, nil
}

func (p *AssemblyAI) submit(ctx context.Context, audioURL string) (*transcriptResponse, error) {
	payload := transcriptRequest{
		AudioURL:                    audioURL,
		FormatText:                  true,
		LanguageDetection:           p.opts.LanguageDetection,
		LanguageConfidenceThreshold: p.opts.LanguageConfidenceThreshold,
		Punctuate:                   true,
	}
	body, err := postJSON(ctx, p.opts.client(), joinURL(p.opts.BaseURL, "/transcript"), p.opts.APIKey, payload, p.ID(), "submit")
	if err != nil {
		return nil, err
	}
	var job transcriptResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("assemblyai submit: parse response: %w", err)
	}
	return &job, nil
}

func (p *AssemblyAI) status(ctx context.Context, id string) (*transcriptResponse, error) {
	u := joinURL(p.opts.BaseURL, "/transcript/"+url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", p.opts.APIKey)

	body, err := do(p.opts.client(), req, p.ID(), "status")
	if err != nil {
		return nil, err
	}
	var st transcriptResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("assemblyai status: parse response: %w", err)
	}
	return &st, nil
}
