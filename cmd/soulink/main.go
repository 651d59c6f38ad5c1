// Command soulink is a terminal client for conversing with a remote AI
// companion character: streamed text chat, push-to-talk voice exchanges,
// and a local WebSocket feed for companion surfaces.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/soulink-ai/soulink/internal/catalog"
	"github.com/soulink-ai/soulink/internal/config"
	"github.com/soulink-ai/soulink/internal/engine"
	"github.com/soulink-ai/soulink/internal/export"
	"github.com/soulink-ai/soulink/internal/localui"
	"github.com/soulink-ai/soulink/internal/observe"
	"github.com/soulink-ai/soulink/internal/render"
	"github.com/soulink-ai/soulink/internal/transcript"
	"github.com/soulink-ai/soulink/internal/voice"
	"github.com/soulink-ai/soulink/pkg/audio"
	"github.com/soulink-ai/soulink/pkg/chatwire"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	characterName := flag.String("character", "", "select the character by (approximate) name instead of the configured id")
	createFile := flag.String("create", "", "create a character from a YAML definition file and exit")
	listDevices := flag.Bool("list-devices", false, "list audio input devices and exit")
	playFile := flag.String("play", "", "play a WAV file through the default output and exit")
	flag.Parse()

	if *listDevices {
		return runListDevices()
	}
	if *playFile != "" {
		if err := audio.PlayFile(*playFile); err != nil {
			fmt.Fprintf(os.Stderr, "soulink: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.OverridesChanged || d.ExportDirChanged || d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "soulink: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "soulink: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("soulink starting",
		"config", *configPath,
		"origin", cfg.Chat.Origin,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "soulink"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Remote service ────────────────────────────────────────────────────────
	client, err := chatwire.New(cfg.Chat.Origin)
	if err != nil {
		slog.Error("invalid service origin", "origin", cfg.Chat.Origin, "err", err)
		return 1
	}

	if *createFile != "" {
		return runCreateCharacter(ctx, client, *createFile)
	}

	roster := catalog.New(client)
	var character *chatwire.Character
	if *characterName != "" {
		character, err = roster.FindByName(ctx, *characterName)
	} else {
		character, err = roster.Select(ctx, cfg.Chat.CharacterID)
	}
	if err != nil {
		slog.Error("failed to select character", "err", err)
		return 1
	}
	slog.Info("character selected", "id", character.ID, "name", character.Name)

	// ── Audio ─────────────────────────────────────────────────────────────────
	mic := audio.NewMicrophone(audio.MicrophoneConfig{
		DeviceID:   cfg.Audio.DeviceID,
		SampleRate: cfg.Audio.SampleRate,
	})
	pipeline := voice.New(voice.Config{
		Device:      mic,
		Uploader:    client,
		CharacterID: character.ID,
		SampleRate:  cfg.Audio.SampleRate,
	})

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(engine.Config{
		Character:       *character,
		Exchanger:       client,
		Voice:           pipeline,
		Player:          &audio.SpeakerPlayer{},
		Exporter:        &export.FileRenderer{Dir: cfg.Export.Dir},
		Metrics:         metrics,
		Greeting:        cfg.Chat.Greeting,
		ResetGreeting:   cfg.Chat.ResetGreeting,
		FallbackNotice:  cfg.Chat.FallbackNotice,
		VoiceLabel:      cfg.Chat.VoiceLabel,
		ExchangeTimeout: cfg.Chat.ExchangeTimeout.Std(),
	})
	defer eng.Close()

	// ── Local surfaces ────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.UIAddr != "" {
		feed := localui.NewFeed()
		sub, cancelSub := eng.Subscribe()
		g.Go(func() error {
			defer cancelSub()
			for {
				select {
				case <-gctx.Done():
					return nil
				case snap := <-sub:
					if err := feed.Publish(snap); err != nil {
						slog.Warn("snapshot publish failed", "err", err)
					}
				}
			}
		})
		srv := localui.NewServer(feed, metrics).WithReadyCheck(func(ctx context.Context) error {
			_, err := client.Characters(ctx)
			return err
		})
		g.Go(func() error {
			return srv.Serve(gctx, cfg.Server.UIAddr)
		})
	}

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Server.MetricsAddr)
		})
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, character.Name)

	// ── Chat loop ─────────────────────────────────────────────────────────────
	g.Go(func() error {
		defer stop()
		return chatLoop(gctx, eng)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Chat loop ─────────────────────────────────────────────────────────────────

const helpText = `commands:
  /call     start recording a voice message
  /done     stop recording and send it
  /replay   play the last voice reply again
  /export   save the conversation to a snippet file
  /reset    start the conversation over
  /quit     exit`

// chatLoop reads lines from stdin and drives the engine until EOF, /quit,
// or context cancellation.
func chatLoop(ctx context.Context, eng *engine.Engine) error {
	printLatestReply(eng.Snapshot())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit":
			return nil
		case "/help":
			fmt.Println(helpText)
		case "/reset":
			eng.Reset()
			printLatestReply(eng.Snapshot())
		case "/export":
			path, err := eng.ExportSnapshot()
			if err != nil {
				fmt.Printf("export failed: %v\n", err)
				continue
			}
			fmt.Printf("saved %s\n", path)
		case "/call":
			if err := eng.StartVoice(); err != nil {
				fmt.Printf("cannot record: %v\n", err)
				continue
			}
			fmt.Println("recording... type /done to send")
		case "/done":
			if err := eng.StopVoice(); err != nil {
				fmt.Printf("voice send failed: %v\n", err)
				continue
			}
			waitIdle(ctx, eng)
			printLatestReply(eng.Snapshot())
		case "/replay":
			if err := replayLast(eng); err != nil {
				fmt.Printf("replay failed: %v\n", err)
			}
		default:
			if err := eng.SendText(line); err != nil {
				fmt.Printf("cannot send: %v\n", err)
				continue
			}
			waitIdle(ctx, eng)
			printLatestReply(eng.Snapshot())
		}
	}
}

// waitIdle blocks until the current exchange resolves.
func waitIdle(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if eng.Snapshot().Presence == "idle" {
				return
			}
		}
	}
}

// printLatestReply prints the newest assistant turn with stage directions
// dimmed.
func printLatestReply(snap engine.Snapshot) {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role != transcript.RoleAssistant {
			continue
		}
		fmt.Printf("%s: %s\n", snap.Character.Name, formatReply(msg.Content))
		return
	}
}

// formatReply renders stage directions in dim ANSI text.
func formatReply(content string) string {
	var b strings.Builder
	for _, span := range render.Spans(content) {
		if span.Kind == render.SpanStage {
			b.WriteString("\x1b[2m*" + span.Text + "*\x1b[0m")
			continue
		}
		b.WriteString(span.Text)
	}
	return b.String()
}

// replayLast replays the most recent voice reply in the transcript.
func replayLast(eng *engine.Engine) error {
	snap := eng.Snapshot()
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if ref := snap.Messages[i].AudioRef; ref != "" {
			return eng.Replay(ref)
		}
	}
	return errors.New("no voice reply to replay")
}

// ── Local listeners ───────────────────────────────────────────────────────────

// serveMetrics runs a dedicated Prometheus scrape endpoint.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ── Character creation ────────────────────────────────────────────────────────

// characterDef is the YAML layout accepted by -create.
type characterDef struct {
	Name            string   `yaml:"name"`
	Title           string   `yaml:"title"`
	Description     string   `yaml:"description"`
	Traits          []string `yaml:"traits"`
	SystemPrompt    string   `yaml:"system_prompt"`
	FewShotExamples []string `yaml:"few_shot_examples"`
}

func runCreateCharacter(ctx context.Context, client *chatwire.Client, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "soulink: %v\n", err)
		return 1
	}
	var def characterDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		fmt.Fprintf(os.Stderr, "soulink: parse %q: %v\n", path, err)
		return 1
	}
	if def.Name == "" {
		fmt.Fprintf(os.Stderr, "soulink: %q has no name field\n", path)
		return 1
	}

	created, err := client.CreateCharacter(ctx, chatwire.NewCharacter{
		Name:            def.Name,
		Title:           def.Title,
		Description:     def.Description,
		Traits:          def.Traits,
		SystemPrompt:    def.SystemPrompt,
		FewShotExamples: def.FewShotExamples,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "soulink: create character: %v\n", err)
		return 1
	}
	fmt.Printf("created %q (id %s)\n", created.Name, created.ID)
	return 0
}

// ── Device listing ────────────────────────────────────────────────────────────

func runListDevices() int {
	devices, err := audio.ListInputDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "soulink: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no audio input devices found")
		return 0
	}
	for _, d := range devices {
		fmt.Println(d)
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, characterName string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Soulink — companion link      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Origin", cfg.Chat.Origin)
	printField("Character", characterName)
	printField("UI addr", cfg.Server.UIAddr)
	printField("Metrics addr", cfg.Server.MetricsAddr)
	printField("Export dir", cfg.Export.Dir)
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Println("type /help for commands")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
