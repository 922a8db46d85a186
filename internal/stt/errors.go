package stt

import (
	"fmt"
	"strings"
)

const maxErrorBody = 300

// ConfigError reports a missing credential. It is raised before any network call.
type ConfigError struct {
	Provider string
	Field    string // config key, e.g. "groqApiKey"
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s API key is required", displayName(e.Provider))
}

// ProviderError is a non-2xx response from a provider.
type ProviderError struct {
	Provider   string
	Op         string // "transcribe", "upload", "submit", "status"
	Status     int
	StatusText string
	Body       string // truncated to 300 characters
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %s", displayName(e.Provider), e.Op, e.StatusText)
	if e.Body != "" {
		msg += " " + e.Body
	}
	return msg
}

// TimeoutError reports polling that never reached a terminal status.
type TimeoutError struct {
	Provider string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s transcription timed out after %d status checks", displayName(e.Provider), e.Attempts)
}

// JobError is a transcription job the provider itself marked as failed. Terminal.
type JobError struct {
	Provider string
	ID       string
	Detail   string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s transcription failed: %s", displayName(e.Provider), e.Detail)
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if r := []rune(s); len(r) > maxErrorBody {
		return string(r[:maxErrorBody])
	}
	return s
}
