package dictation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/audio"
	"github.com/roelfdiedericks/goscribe/internal/bus"
	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/history"
	"github.com/roelfdiedericks/goscribe/internal/postprocess"
	"github.com/roelfdiedericks/goscribe/internal/stt"
)

type fakeProvider struct {
	id       string
	needsWAV bool
	text     string
	err      error
	got      []stt.Audio
	block    chan struct{}
}

func (f *fakeProvider) ID() string     { return f.id }
func (f *fakeProvider) NeedsWAV() bool { return f.needsWAV }
func (f *fakeProvider) Transcribe(ctx context.Context, a stt.Audio) (string, error) {
	f.got = append(f.got, a)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type fakeTranscoder struct{ calls int }

func (f *fakeTranscoder) ToWAV(_ context.Context, in []byte) ([]byte, error) {
	f.calls++
	return append([]byte("RIFF"), in...), nil
}

type fakePost struct {
	out string
	err error
}

func (f *fakePost) Process(_ context.Context, text string, _ *config.Config) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.out == "" {
		return text, nil
	}
	return f.out, nil
}

type fakeDeliverer struct {
	texts []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, text string) (bool, error) {
	f.texts = append(f.texts, text)
	return false, nil
}

type harness struct {
	p        *Pipeline
	cfg      *config.Config
	provider *fakeProvider
	tc       *fakeTranscoder
	post     *fakePost
	store    *history.Store
	deliver  *fakeDeliverer
	events   *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:      config.Defaults(),
		provider: &fakeProvider{id: "openai", text: "hello world"},
		tc:       &fakeTranscoder{},
		post:     &fakePost{},
		deliver:  &fakeDeliverer{},
		events:   bus.New(),
	}
	h.events.Sync = true
	h.store = history.NewStore(filepath.Join(t.TempDir(), "recordings"), h.events)
	h.p = New(Deps{
		Config:        func() *config.Config { return h.cfg },
		NewProvider:   func(*config.Config) (stt.Provider, error) { return h.provider, nil },
		Transcoder:    h.tc,
		PostProcessor: h.post,
		History:       h.store,
		Deliverer:     h.deliver,
		Events:        h.events,
	})
	return h
}

func TestCreateRecordingNativeFormat(t *testing.T) {
	h := newHarness(t)

	res, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte{0x1a, 0x45, 0xdf, 0xa3}, Duration: 1.5})
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if h.tc.calls != 0 {
		t.Errorf("transcoder called for native-format provider")
	}
	if res.Entry.Transcript != "hello world" || res.Entry.AudioExt != ".webm" || res.Entry.Duration != 1.5 {
		t.Errorf("entry = %+v", res.Entry)
	}
	if len(h.deliver.texts) != 1 || h.deliver.texts[0] != "hello world" {
		t.Errorf("delivered = %v", h.deliver.texts)
	}

	list, _ := h.store.List()
	if len(list) != 1 || list[0].ID != res.Entry.ID {
		t.Fatalf("history = %+v", list)
	}
	if _, err := os.Stat(filepath.Join(h.store.Dir(), res.Entry.ID+".webm")); err != nil {
		t.Errorf("sidecar: %v", err)
	}
	if h.p.State() != StateIdle {
		t.Errorf("state = %s, want idle", h.p.State())
	}
}

func TestCreateRecordingTranscodesForWAVProviders(t *testing.T) {
	h := newHarness(t)
	h.provider.needsWAV = true
	h.provider.id = "siliconflow"

	res, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("webm")})
	if err != nil {
		t.Fatal(err)
	}
	if h.tc.calls != 1 {
		t.Errorf("transcoder calls = %d, want 1", h.tc.calls)
	}
	if got := h.provider.got[0]; string(got.Data) != "RIFFwebm" || got.Filename != "recording.wav" {
		t.Errorf("provider got %q %s", got.Data, got.Filename)
	}
	sidecar := filepath.Join(h.store.Dir(), res.Entry.ID+".wav")
	data, err := os.ReadFile(sidecar)
	if err != nil || string(data) != "RIFFwebm" {
		t.Errorf("wav sidecar = %q, %v", data, err)
	}
}

func TestStatesPublished(t *testing.T) {
	h := newHarness(t)
	var states []State
	h.p.Subscribe(func(s State) { states = append(states, s) })

	if err := h.p.RecordEvent(EventStart); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	want := []State{StateRecording, StateTranscribing, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestRecordEventInvalid(t *testing.T) {
	h := newHarness(t)
	if err := h.p.RecordEvent(EventEnd); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("end while idle: %v", err)
	}
	h.p.RecordEvent(EventStart)
	if err := h.p.RecordEvent(EventStart); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double start: %v", err)
	}
	if err := h.p.RecordEvent(EventEnd); err != nil {
		t.Errorf("end while recording: %v", err)
	}
}

func TestProviderErrorLeavesNoHistory(t *testing.T) {
	h := newHarness(t)
	h.provider.err = &stt.ProviderError{Provider: "openai", Status: 500, StatusText: "Internal Server Error"}

	_, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")})
	if Kind(err) != KindProvider {
		t.Fatalf("Kind = %q (%v)", Kind(err), err)
	}
	list, _ := h.store.List()
	if len(list) != 0 || len(h.deliver.texts) != 0 {
		t.Errorf("history=%v delivered=%v after failure", list, h.deliver.texts)
	}
	if h.p.State() != StateIdle {
		t.Errorf("state = %s after failure", h.p.State())
	}
}

func TestPostProcessFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.post.err = &postprocess.Error{Provider: "openai", Err: errors.New("503")}

	var failed []string
	h.events.Subscribe(bus.TopicPostProcessFailed, func(e bus.Event) { failed = append(failed, e.Data.(string)) })

	res, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")})
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	if res.PostProcessErr == nil || len(failed) != 1 {
		t.Errorf("post-processing failure not surfaced: %v %v", res.PostProcessErr, failed)
	}
	if res.Entry.Transcript != "hello world" {
		t.Errorf("transcript = %q, want raw", res.Entry.Transcript)
	}
}

func TestPostProcessFailureAbortsWhenFallbackDisabled(t *testing.T) {
	h := newHarness(t)
	off := false
	h.cfg.PostProcessingFallback = &off
	h.post.err = &postprocess.Error{Provider: "openai", Err: errors.New("503")}

	_, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")})
	var pe *postprocess.Error
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *postprocess.Error", err)
	}
	if list, _ := h.store.List(); len(list) != 0 {
		t.Errorf("history written despite abort")
	}
}

func TestPostProcessedTranscriptStored(t *testing.T) {
	h := newHarness(t)
	h.post.out = "Hello, world."

	res, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Entry.Transcript != "Hello, world." || res.RawTranscript != "hello world" {
		t.Errorf("entry=%q raw=%q", res.Entry.Transcript, res.RawTranscript)
	}
}

func TestConcurrentCreateRecordingIsBusy(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.p.CreateRecording(context.Background(), Recording{Data: []byte("x")})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.p.State() != StateTranscribing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := h.p.CreateRecording(context.Background(), Recording{Data: []byte("y")}); !errors.Is(err, ErrBusy) {
		t.Errorf("second call err = %v, want ErrBusy", err)
	}
	close(h.provider.block)
	wg.Wait()
}

func TestCancellation(t *testing.T) {
	h := newHarness(t)
	h.provider.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.p.CreateRecording(ctx, Recording{Data: []byte("x")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		&stt.ConfigError{Provider: "groq"}:                 KindConfiguration,
		&stt.TimeoutError{Provider: "assemblyai"}:          KindTimeout,
		&stt.JobError{Provider: "assemblyai"}:              KindProvider,
		&audio.TranscodeError{Err: errors.New("exit 1")}:   KindTranscode,
		&history.FilesystemError{Err: os.ErrPermission}:    KindFilesystem,
		ErrBusy:                                            KindBusy,
		&postprocess.Error{Err: postprocess.ErrMissingKey}: KindConfiguration,
		errors.New("boom"):                                 KindInternal,
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
