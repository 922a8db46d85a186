// Package config loads, validates and persists the goscribe configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"

	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

// STT provider identifiers.
const (
	STTOpenAI      = "openai"
	STTGroq        = "groq"
	STTSiliconFlow = "siliconflow"
	STTAssemblyAI  = "assemblyai"
)

// Chat provider identifiers used for transcript post-processing.
const (
	ChatOpenAI = "openai"
	ChatGroq   = "groq"
	ChatGemini = "gemini"
)

// STTProviders lists every supported STT provider id.
var STTProviders = []string{STTOpenAI, STTGroq, STTSiliconFlow, STTAssemblyAI}

// ChatProviders lists every supported post-processing provider id.
var ChatProviders = []string{ChatOpenAI, ChatGroq, ChatGemini}

// Config is the user-edited, persisted configuration. Keys match the desktop app's settings file.
type Config struct {
	// UI-only settings, carried through untouched
	Shortcut     string `json:"shortcut,omitempty"` // "hold-ctrl", "ctrl-slash"
	HideDockIcon bool   `json:"hideDockIcon,omitempty"`

	STTProviderID string `json:"sttProviderId"`

	OpenAIAPIKey  string `json:"openaiApiKey,omitempty"`
	OpenAIBaseURL string `json:"openaiBaseUrl,omitempty"`
	OpenAIModel   string `json:"openaiModel,omitempty"` // STT model, "whisper-1"

	GroqAPIKey  string `json:"groqApiKey,omitempty"`
	GroqBaseURL string `json:"groqBaseUrl,omitempty"`
	GroqModel   string `json:"groqModel,omitempty"` // STT model, "whisper-large-v3"

	GeminiAPIKey  string `json:"geminiApiKey,omitempty"`
	GeminiBaseURL string `json:"geminiBaseUrl,omitempty"`

	SiliconFlowAPIKey  string `json:"siliconflowApiKey,omitempty"`
	SiliconFlowBaseURL string `json:"siliconflowBaseUrl,omitempty"`
	SiliconFlowModel   string `json:"siliconflowModel,omitempty"`

	AssemblyAIAPIKey                      string  `json:"assemblyaiApiKey,omitempty"`
	AssemblyAIBaseURL                     string  `json:"assemblyaiBaseUrl,omitempty"`
	AssemblyAILanguageDetection           bool    `json:"assemblyaiLanguageDetection,omitempty"`
	AssemblyAILanguageConfidenceThreshold float64 `json:"assemblyaiLanguageConfidenceThreshold,omitempty"`
	AssemblyAIPollAttempts                int     `json:"assemblyaiPollAttempts,omitempty"`
	AssemblyAIPollIntervalMs              int     `json:"assemblyaiPollIntervalMs,omitempty"`

	PostProcessingEnabled    bool   `json:"transcriptPostProcessingEnabled,omitempty"`
	PostProcessingProviderID string `json:"transcriptPostProcessingProviderId,omitempty"`
	PostProcessingPrompt     string `json:"transcriptPostProcessingPrompt,omitempty"`
	PostProcessingModel      string `json:"transcriptPostProcessingModel,omitempty"`
	PostProcessingFallback   *bool  `json:"postProcessingFallback,omitempty"` // nil = true

	FFmpegPath            string   `json:"ffmpegPath,omitempty"`
	PasteCommand          []string `json:"pasteCommand,omitempty"`
	RequestTimeoutSeconds int      `json:"requestTimeoutSeconds,omitempty"`
	LogLevel              string   `json:"logLevel,omitempty"`
	Listen                string   `json:"listen,omitempty"`
}

// Defaults returns the configuration used for any field the user left empty.
func Defaults() *Config {
	fallback := true
	return &Config{
		STTProviderID: STTOpenAI,

		OpenAIBaseURL: "https://api.openai.com/v1",
		OpenAIModel:   "whisper-1",

		GroqBaseURL: "https://api.groq.com/openai/v1",
		GroqModel:   "whisper-large-v3",

		GeminiBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",

		SiliconFlowBaseURL: "https://api.siliconflow.cn/v1",
		SiliconFlowModel:   "FunAudioLLM/SenseVoiceSmall",

		AssemblyAIBaseURL:                     "https://api.assemblyai.com/v2",
		AssemblyAILanguageConfidenceThreshold: 0.7,
		AssemblyAIPollAttempts:                30,
		AssemblyAIPollIntervalMs:              1000,

		PostProcessingProviderID: ChatOpenAI,
		PostProcessingFallback:   &fallback,

		RequestTimeoutSeconds: 120,
		LogLevel:              "info",
		Listen:                "127.0.0.1:4310",
	}
}

// ApplyDefaults fills every zero-valued field from Defaults.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(c, Defaults()); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return nil
}

// Validate checks enumerations. Missing credentials are left to the provider adapters,
// which report them as configuration errors naming the missing key.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(STTProviders, c.STTProviderID) {
		errs = append(errs, fmt.Errorf("unknown sttProviderId %q (want one of %v)", c.STTProviderID, STTProviders))
	}
	if c.PostProcessingEnabled && !slices.Contains(ChatProviders, c.PostProcessingProviderID) {
		errs = append(errs, fmt.Errorf("unknown transcriptPostProcessingProviderId %q (want one of %v)",
			c.PostProcessingProviderID, ChatProviders))
	}
	if c.AssemblyAILanguageConfidenceThreshold < 0 || c.AssemblyAILanguageConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("assemblyaiLanguageConfidenceThreshold must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// FallbackOnPostProcessError reports whether a failed rewrite should keep the raw transcript.
func (c *Config) FallbackOnPostProcessError() bool {
	return c.PostProcessingFallback == nil || *c.PostProcessingFallback
}

// RequestTimeout is the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// PollInterval is the delay between AssemblyAI status checks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.AssemblyAIPollIntervalMs) * time.Millisecond
}

// Clone returns a deep copy safe to hand to a pipeline run.
func (c *Config) Clone() *Config {
	cp := *c
	cp.PasteCommand = slices.Clone(c.PasteCommand)
	if c.PostProcessingFallback != nil {
		v := *c.PostProcessingFallback
		cp.PostProcessingFallback = &v
	}
	return &cp
}

// MaskSecret hides all but the ends of an API key.
func MaskSecret(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.OpenAIAPIKey, &c.GroqAPIKey, &c.GeminiAPIKey,
		&c.SiliconFlowAPIKey, &c.AssemblyAIAPIKey,
	}
}

// Masked returns a copy with every API key passed through MaskSecret.
func (c *Config) Masked() *Config {
	cp := c.Clone()
	for _, key := range cp.secrets() {
		*key = MaskSecret(*key)
	}
	return cp
}

// KeepSecrets restores keys that come back unchanged from a Masked view of current,
// so a client can round-trip the config without ever seeing the real keys.
func (c *Config) KeepSecrets(current *Config) {
	cur := current.secrets()
	for i, key := range c.secrets() {
		if *cur[i] != "" && *key == MaskSecret(*cur[i]) {
			*key = *cur[i]
		}
	}
}

// Load reads the config at path. A missing file yields defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		L_debug("config: loaded", "path", path)
	case errors.Is(err, os.ErrNotExist):
		L_debug("config: no config file, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates and persists cfg, keeping rotated backups of the previous file.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return BackupAndWriteJSON(path, cfg, DefaultBackupCount)
}
