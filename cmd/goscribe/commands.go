package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/audio"
	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/delivery"
	"github.com/roelfdiedericks/goscribe/internal/dictation"
	"github.com/roelfdiedericks/goscribe/internal/history"
	apihttp "github.com/roelfdiedericks/goscribe/internal/http"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
	"github.com/roelfdiedericks/goscribe/internal/postprocess"
)

// runtimeDeliverer rebuilds delivery from the current config so paste changes apply live.
type runtimeDeliverer struct {
	rt *config.Runtime
}

func (d runtimeDeliverer) Deliver(ctx context.Context, text string) (bool, error) {
	return delivery.NewFromConfig(d.rt.Get()).Deliver(ctx, text)
}

// runtimeTranscoder resolves ffmpeg from the current config on every call.
type runtimeTranscoder struct {
	rt *config.Runtime
}

func (t runtimeTranscoder) ToWAV(ctx context.Context, input []byte) ([]byte, error) {
	return audio.NewTranscoder(t.rt.Get().FFmpegPath).ToWAV(ctx, input)
}

// newPipeline wires the production collaborators. deliver=false leaves the clipboard alone.
func (a *App) newPipeline(store *history.Store, deliver bool) *dictation.Pipeline {
	deps := dictation.Deps{
		Config:        a.Runtime.Get,
		Transcoder:    runtimeTranscoder{rt: a.Runtime},
		PostProcessor: &postprocess.Processor{},
		History:       store,
		Events:        a.Events,
	}
	if deliver {
		deps.Deliverer = runtimeDeliverer{rt: a.Runtime}
	}
	return dictation.New(deps)
}

func openMetrics() *metrics.MetricsManager {
	m := metrics.GetInstance()
	path, err := metrics.DefaultDBPath()
	if err == nil {
		err = m.Open(path)
	}
	if err != nil {
		L_warn("metrics: persistence disabled", "error", err)
	}
	return m
}

type TranscribeCmd struct {
	File      string  `arg:"" type:"existingfile" help:"Audio file (webm, ogg, mp3, wav, ...)."`
	Duration  float64 `help:"Recording duration in seconds to store with the history entry."`
	NoDeliver bool    `help:"Do not copy or paste the transcript."`
}

func (c *TranscribeCmd) Run(app *App) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	store, err := history.OpenDefault(app.Events)
	if err != nil {
		return err
	}

	m := openMetrics()
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := app.newPipeline(store, !c.NoDeliver).CreateRecording(ctx, dictation.Recording{Data: data, Duration: c.Duration})
	if err != nil {
		return fmt.Errorf("%s error: %w", dictation.Kind(err), err)
	}
	if res.PostProcessErr != nil {
		fmt.Fprintf(os.Stderr, "post-processing failed, kept raw transcript: %v\n", res.PostProcessErr)
	}
	if res.DeliveryErr != nil {
		fmt.Fprintf(os.Stderr, "delivery failed: %v\n", res.DeliveryErr)
	}
	fmt.Println(res.Entry.Transcript)
	return nil
}

type HistoryCmd struct {
	List   HistoryListCmd   `cmd:"" default:"1" help:"List entries, newest first."`
	Delete HistoryDeleteCmd `cmd:"" help:"Delete one entry and its audio."`
	Clear  HistoryClearCmd  `cmd:"" help:"Delete all entries and recordings."`
}

type HistoryListCmd struct {
	Limit int  `short:"n" default:"20" help:"Maximum entries to show (0 for all)."`
	JSON  bool `help:"Print raw JSON."`
}

func (c *HistoryListCmd) Run(app *App) error {
	store, err := history.OpenDefault(app.Events)
	if err != nil {
		return err
	}
	entries, err := store.List()
	if err != nil {
		return err
	}
	if c.Limit > 0 && len(entries) > c.Limit {
		entries = entries[:c.Limit]
	}
	if c.JSON {
		return printJSON(entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSECONDS\tTRANSCRIPT")
	for _, e := range entries {
		created := time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\n", e.ID, created, e.Duration, preview(e.Transcript, 60))
	}
	return tw.Flush()
}

type HistoryDeleteCmd struct {
	ID string `arg:"" help:"Entry id."`
}

func (c *HistoryDeleteCmd) Run(app *App) error {
	store, err := history.OpenDefault(app.Events)
	if err != nil {
		return err
	}
	return store.DeleteOne(c.ID)
}

type HistoryClearCmd struct{}

func (c *HistoryClearCmd) Run(app *App) error {
	store, err := history.OpenDefault(app.Events)
	if err != nil {
		return err
	}
	return store.DeleteAll()
}

type ConfigCmd struct {
	Show        ConfigShowCmd        `cmd:"" default:"1" help:"Print the effective config with secrets masked."`
	Path        ConfigPathCmd        `cmd:"" help:"Print the config file path."`
	SetProvider ConfigSetProviderCmd `cmd:"" help:"Select the speech-to-text provider."`
}

type ConfigShowCmd struct {
	Reveal bool `help:"Print API keys unmasked."`
}

func (c *ConfigShowCmd) Run(app *App) error {
	cfg := app.Runtime.Get()
	if !c.Reveal {
		cfg = cfg.Masked()
	}
	return printJSON(cfg)
}

type ConfigPathCmd struct{}

func (c *ConfigPathCmd) Run(app *App) error {
	fmt.Println(app.Runtime.Path())
	return nil
}

type ConfigSetProviderCmd struct {
	ID string `arg:"" enum:"openai,groq,siliconflow,assemblyai" help:"Provider id."`
}

func (c *ConfigSetProviderCmd) Run(app *App) error {
	cfg := app.Runtime.Get()
	cfg.STTProviderID = c.ID
	return app.Runtime.Update(cfg)
}

type ServeCmd struct {
	Listen string `help:"Listen address; defaults to the configured value." placeholder:"HOST:PORT"`
	Watch  bool   `default:"true" negatable:"" help:"Reload goscribe.json when it changes."`
}

func (c *ServeCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := openMetrics()
	defer m.Close()

	store, err := history.OpenDefault(app.Events)
	if err != nil {
		return err
	}

	if tc := audio.NewTranscoder(app.Runtime.Get().FFmpegPath); !tc.Available() {
		L_warn("ffmpeg not found; providers that need WAV (siliconflow) will fail", "ffmpeg", tc.FFmpegPath)
	}

	if c.Watch {
		w, err := config.NewWatcher(app.Runtime.Path(), app.Events, app.Runtime.Replace)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			L_warn("config: watch disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	listen := c.Listen
	if listen == "" {
		listen = app.Runtime.Get().Listen
	}

	srv := apihttp.NewServer(&apihttp.ServerConfig{
		Listen:   listen,
		Pipeline: app.newPipeline(store, true),
		History:  store,
		Config:   app.Runtime,
		Events:   app.Events,
		Metrics:  m,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	L_info("goscribe ready", "listen", listen, "sttProvider", app.Runtime.Get().STTProviderID)

	<-ctx.Done()
	L_info("shutting down")
	return srv.Stop()
}

type StatsCmd struct {
	JSON bool `help:"Print raw JSON."`
}

func (c *StatsCmd) Run(app *App) error {
	m := metrics.NewManager()
	path, err := metrics.DefaultDBPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Println("no metrics recorded yet")
		return nil
	}
	if err := m.Open(path); err != nil {
		return err
	}
	defer m.Close()

	snap := m.Snapshot()
	if c.JSON {
		return printJSON(snap)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tTYPE\tVALUE")
	for _, s := range snap {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Path, s.Type, describe(s))
	}
	return tw.Flush()
}

func describe(s metrics.MetricSnapshot) string {
	switch d := s.Data.(type) {
	case metrics.TimingSnapshot:
		return fmt.Sprintf("n=%d avg=%.0fms p95=%.0fms", d.Count, d.AvgMs, d.P95Ms)
	case metrics.CounterSnapshot:
		return fmt.Sprintf("%d", d.Value)
	case metrics.SuccessFailSnapshot:
		return fmt.Sprintf("ok=%d fail=%d (%.0f%%)", d.Success, d.Failures, d.SuccessRate)
	}
	return fmt.Sprintf("%v", s.Data)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
