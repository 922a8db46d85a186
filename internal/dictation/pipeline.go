// Package dictation runs a captured recording through transcoding, speech-to-text,
// optional post-processing, history and delivery.
package dictation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/audio"
	"github.com/roelfdiedericks/goscribe/internal/bus"
	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/history"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	. "github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/stt"
)

// Transcoder converts a capture buffer to 16 kHz mono WAV.
type Transcoder interface {
	ToWAV(ctx context.Context, input []byte) ([]byte, error)
}

// PostProcessor rewrites a transcript; identity when disabled.
type PostProcessor interface {
	Process(ctx context.Context, text string, cfg *config.Config) (string, error)
}

// Deliverer hands the final transcript to the user.
type Deliverer interface {
	Deliver(ctx context.Context, text string) (pasted bool, err error)
}

// ProviderFactory builds the STT adapter selected by cfg.
type ProviderFactory func(cfg *config.Config) (stt.Provider, error)

// Recording is one captured utterance.
type Recording struct {
	Data     []byte
	Duration float64 // seconds, measured by the client
}

// Transcription is the raw STT result plus the bytes actually sent to the provider.
type Transcription struct {
	Text  string
	Audio []byte
	Ext   string // sidecar extension: ".wav" when transcoded
}

// Result is the outcome of CreateRecording.
type Result struct {
	Entry          history.Entry
	RawTranscript  string
	Pasted         bool
	PostProcessErr error // set when post-processing failed and the raw transcript was kept
	DeliveryErr    error
}

// Deps are the collaborators of a Pipeline. Config is read once per recording.
type Deps struct {
	Config        func() *config.Config
	NewProvider   ProviderFactory // defaults to stt.NewFromConfig
	Transcoder    Transcoder
	PostProcessor PostProcessor // nil skips post-processing
	History       *history.Store
	Deliverer     Deliverer // nil skips delivery
	Events        *bus.Bus  // defaults to bus.Default()
}

// Pipeline is the transcription orchestrator. One recording is processed at a time.
type Pipeline struct {
	deps   Deps
	events *bus.Bus

	inflight atomic.Bool

	stateMu sync.Mutex
	state   State
}

// New creates an idle pipeline.
func New(deps Deps) *Pipeline {
	if deps.NewProvider == nil {
		deps.NewProvider = stt.NewFromConfig
	}
	if deps.Events == nil {
		deps.Events = bus.Default()
	}
	return &Pipeline{deps: deps, events: deps.Events, state: StateIdle}
}

// Transcribe picks the adapter for cfg, transcodes when the adapter needs WAV and returns
// the transcript. All network I/O happens inside the adapter.
func (p *Pipeline) Transcribe(ctx context.Context, rec Recording, cfg *config.Config) (Transcription, error) {
	provider, err := p.deps.NewProvider(cfg)
	if err != nil {
		return Transcription{}, err
	}

	data := rec.Data
	ext, mimeType := audio.Sniff(data)

	if provider.NeedsWAV() {
		wav, err := p.deps.Transcoder.ToWAV(ctx, data)
		if err != nil {
			return Transcription{}, err
		}
		data, ext, mimeType = wav, ".wav", "audio/wav"
	}

	L_debug("dictation: transcribing", "provider", provider.ID(), "bytes", len(data), "ext", ext)

	start := time.Now()
	text, err := provider.Transcribe(ctx, stt.Audio{Data: data, Filename: "recording" + ext, MimeType: mimeType})
	MetricDuration("stt", provider.ID(), time.Since(start))
	if err != nil {
		MetricFailWithReason("stt", provider.ID(), Kind(err))
		return Transcription{}, err
	}
	MetricSuccess("stt", provider.ID())

	return Transcription{Text: text, Audio: data, Ext: ext}, nil
}

// CreateRecording runs the full flow for one recording: transcribe, post-process,
// append to history, deliver. Concurrent calls fail with ErrBusy.
func (p *Pipeline) CreateRecording(ctx context.Context, rec Recording) (Result, error) {
	if !p.inflight.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer p.inflight.Store(false)

	if err := p.transition(StateTranscribing); err != nil {
		return Result{}, err
	}
	defer func() {
		if err := p.transition(StateIdle); err != nil {
			L_warn("dictation: failed to return to idle", "error", err)
		}
	}()

	cfg := p.deps.Config().Clone()
	started := time.Now()
	MetricInc("pipeline", "recordings")

	tr, err := p.Transcribe(ctx, rec, cfg)
	if err != nil {
		L_error("dictation: transcription failed", "provider", cfg.STTProviderID, "kind", Kind(err), "error", err)
		return Result{}, err
	}

	res := Result{RawTranscript: tr.Text}
	transcript := tr.Text

	if p.deps.PostProcessor != nil {
		out, err := p.deps.PostProcessor.Process(ctx, tr.Text, cfg)
		switch {
		case err == nil:
			transcript = out
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		case cfg.FallbackOnPostProcessError():
			L_warn("dictation: post-processing failed, keeping raw transcript", "error", err)
			res.PostProcessErr = err
			p.events.Publish(bus.TopicPostProcessFailed, err.Error(), "pipeline")
		default:
			return Result{}, err
		}
	}

	entry := history.NewEntry(transcript, rec.Duration, tr.Ext)
	if err := p.deps.History.Append(entry, tr.Audio); err != nil {
		return Result{}, err
	}
	res.Entry = entry
	p.events.Publish(bus.TopicTranscriptReady, entry, "pipeline")

	if p.deps.Deliverer != nil {
		pasted, err := p.deps.Deliverer.Deliver(ctx, transcript)
		if err != nil {
			L_warn("dictation: delivery failed", "error", err)
			res.DeliveryErr = err
		}
		res.Pasted = pasted
	}

	L_elapsed(started, "dictation: recording processed", "id", entry.ID, "provider", cfg.STTProviderID, "pasted", res.Pasted)
	return res, nil
}
