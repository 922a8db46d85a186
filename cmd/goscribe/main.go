package main

import (
	"fmt"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	"github.com/roelfdiedericks/goscribe/internal/config"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

const version = "0.1.0"

// CLI is the goscribe command line.
type CLI struct {
	ConfigFile string `name:"config" short:"c" help:"Path to goscribe.json (default: ./goscribe.json, then ~/.goscribe/goscribe.json)." type:"path"`
	LogLevel   string `name:"log-level" help:"Override the configured log level (trace, debug, info, warn, error)."`

	Transcribe TranscribeCmd `cmd:"" help:"Transcribe an audio file through the configured provider."`
	History    HistoryCmd    `cmd:"" help:"List or delete transcription history."`
	Config     ConfigCmd     `cmd:"" help:"Inspect or change the configuration."`
	Serve      ServeCmd      `cmd:"" help:"Run the local API for the desktop UI."`
	Stats      StatsCmd      `cmd:"" help:"Show persisted pipeline metrics."`
	Version    VersionCmd    `cmd:"" help:"Print the version."`
}

// App is shared by every command.
type App struct {
	Runtime *config.Runtime
	Events  *bus.Bus
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("goscribe %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("goscribe"),
		kong.Description("Desktop dictation core: speech-to-text, post-processing, history and delivery."),
		kong.UsageOnError(),
	)

	logCfg := DefaultLogConfig()
	if cli.LogLevel != "" {
		logCfg.Level = ParseLevel(cli.LogLevel)
	}
	Init(logCfg)

	app, err := newApp(&cli)
	ctx.FatalIfErrorf(err)

	ctx.FatalIfErrorf(ctx.Run(app))
}

func newApp(cli *CLI) (*App, error) {
	path := cli.ConfigFile
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel == "" {
		SetLevel(ParseLevel(cfg.LogLevel))
	}
	L_debug("config loaded", "path", path, "sttProvider", cfg.STTProviderID)

	events := bus.Default()
	return &App{
		Runtime: config.NewRuntime(path, cfg, events),
		Events:  events,
	}, nil
}
