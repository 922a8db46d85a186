package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/bus"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STTProviderID != STTOpenAI {
		t.Errorf("STTProviderID = %q, want openai", cfg.STTProviderID)
	}
	if cfg.AssemblyAIPollAttempts != 30 || cfg.AssemblyAIPollIntervalMs != 1000 {
		t.Errorf("poll defaults = %d x %dms", cfg.AssemblyAIPollAttempts, cfg.AssemblyAIPollIntervalMs)
	}
	if cfg.AssemblyAILanguageConfidenceThreshold != 0.7 {
		t.Errorf("confidence threshold = %v, want 0.7", cfg.AssemblyAILanguageConfidenceThreshold)
	}
	if !cfg.FallbackOnPostProcessError() {
		t.Error("post-processing fallback should default to true")
	}
}

func TestLoadKeepsUserValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")
	body := `{
		"sttProviderId": "assemblyai",
		"assemblyaiApiKey": "k",
		"assemblyaiPollAttempts": 5,
		"postProcessingFallback": false,
		"groqBaseUrl": "http://localhost:1234/v1"
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STTProviderID != STTAssemblyAI {
		t.Errorf("STTProviderID = %q", cfg.STTProviderID)
	}
	if cfg.AssemblyAIPollAttempts != 5 {
		t.Errorf("AssemblyAIPollAttempts = %d, want 5", cfg.AssemblyAIPollAttempts)
	}
	if cfg.FallbackOnPostProcessError() {
		t.Error("explicit postProcessingFallback=false was overwritten")
	}
	if cfg.GroqBaseURL != "http://localhost:1234/v1" {
		t.Errorf("GroqBaseURL = %q", cfg.GroqBaseURL)
	}
	if cfg.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAIBaseURL default not applied: %q", cfg.OpenAIBaseURL)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")
	os.WriteFile(path, []byte(`{"sttProviderId":"gemini"}`), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown stt provider")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")
	os.WriteFile(path, []byte(`{not json`), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTripWithBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")

	cfg := Defaults()
	cfg.GroqAPIKey = "first"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.GroqAPIKey = "second"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.GroqAPIKey != "second" {
		t.Errorf("GroqAPIKey = %q, want second", got.GroqAPIKey)
	}

	bak, err := Load(path + ".bak")
	if err != nil {
		t.Fatalf("Load backup: %v", err)
	}
	if bak.GroqAPIKey != "first" {
		t.Errorf("backup GroqAPIKey = %q, want first", bak.GroqAPIKey)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Defaults()
	cfg.PasteCommand = []string{"wtype", "-"}

	cp := cfg.Clone()
	cp.PasteCommand[0] = "xdotool"
	*cp.PostProcessingFallback = false

	if cfg.PasteCommand[0] != "wtype" {
		t.Error("Clone shares PasteCommand")
	}
	if !cfg.FallbackOnPostProcessError() {
		t.Error("Clone shares PostProcessingFallback")
	}
}

func TestWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")
	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}

	events := bus.New()
	applied := make(chan string, 1)
	events.Subscribe(bus.TopicConfigApplied, func(e bus.Event) {
		select {
		case applied <- e.Data.(string):
		default:
		}
	})

	w, err := NewWatcher(path, events, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	cfg := Defaults()
	cfg.STTProviderID = STTGroq
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-applied:
		if id != STTGroq {
			t.Errorf("applied provider = %q, want groq", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config.applied event")
	}
}

func TestRuntimeUpdatePersistsAndPublishes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goscribe.json")
	events := bus.New()
	events.Sync = true
	var sources []string
	events.Subscribe(bus.TopicConfigApplied, func(e bus.Event) { sources = append(sources, e.Source) })

	rt := NewRuntime(path, Defaults(), events)

	next := rt.Get()
	next.STTProviderID = STTSiliconFlow
	next.SiliconFlowAPIKey = "sf"
	if err := rt.Update(next); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rt.Get().STTProviderID != STTSiliconFlow {
		t.Errorf("runtime not updated")
	}
	onDisk, err := Load(path)
	if err != nil || onDisk.SiliconFlowAPIKey != "sf" {
		t.Errorf("not persisted: %v %+v", err, onDisk)
	}

	bad := rt.Get()
	bad.STTProviderID = "nope"
	if err := rt.Update(bad); err == nil {
		t.Error("invalid config accepted")
	}
	if rt.Get().STTProviderID != STTSiliconFlow {
		t.Error("invalid update changed runtime")
	}

	rt.Replace(Defaults())
	if len(sources) != 2 || sources[0] != "api" || sources[1] != "config" {
		t.Errorf("sources = %v", sources)
	}
}

func TestRuntimeGetIsSnapshot(t *testing.T) {
	rt := NewRuntime("unused", nil, nil)
	if rt.Path() != "unused" {
		t.Errorf("Path = %q", rt.Path())
	}
	cfg := rt.Get()
	cfg.GroqAPIKey = "mutated"
	if rt.Get().GroqAPIKey != "" {
		t.Error("Get returned shared config")
	}
}

func TestMaskedAndKeepSecrets(t *testing.T) {
	for in, want := range map[string]string{"": "", "short": "****", "sk-1234567890abcd": "sk-1****abcd"} {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}

	cur := Defaults()
	cur.OpenAIAPIKey = "sk-1234567890abcd"
	cur.GroqAPIKey = "gsk-abcdefghijkl"

	view := cur.Masked()
	if view.OpenAIAPIKey == cur.OpenAIAPIKey || view.GroqAPIKey == cur.GroqAPIKey {
		t.Fatalf("Masked leaked keys: %+v", view)
	}
	if cur.OpenAIAPIKey != "sk-1234567890abcd" {
		t.Error("Masked modified the original")
	}

	view.GroqAPIKey = "gsk-new-key-000000"
	view.KeepSecrets(cur)
	if view.OpenAIAPIKey != cur.OpenAIAPIKey {
		t.Errorf("masked key not restored: %q", view.OpenAIAPIKey)
	}
	if view.GroqAPIKey != "gsk-new-key-000000" {
		t.Errorf("new key overwritten: %q", view.GroqAPIKey)
	}
}
