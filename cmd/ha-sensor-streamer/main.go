package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	sensorstream "github.com/tuomaz/ha-sensor-streamer"
	"github.com/tuomaz/ha-sensor-streamer/internal/cache"
	"github.com/tuomaz/ha-sensor-streamer/internal/config"
	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
	"github.com/tuomaz/ha-sensor-streamer/internal/render"
	"github.com/tuomaz/ha-sensor-streamer/internal/sensors"
	"github.com/tuomaz/ha-sensor-streamer/internal/template"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional, environment overrides it)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	statsInterval := flag.Duration("stats-interval", time.Minute, "Interval between stats reports (0 disables)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ha-sensor-streamer %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Log, *debug)

	if err := run(cfg, *statsInterval); err != nil {
		slog.Error("ha-sensor-streamer stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("ha-sensor-streamer stopped")
}

func setupLogging(cfg config.LogConfig, debug bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// run wires every component and blocks until SIGINT/SIGTERM or a fatal error.
func run(cfg *config.Config, statsInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Font and renderer failures are fatal: no stream is served without them
	font, err := render.LoadFont(cfg.Display.FontPath, cfg.Display.FontSize)
	if err != nil {
		return err
	}

	store := cache.New()
	resolver, err := template.NewResolver(cfg.Display.Locale, cfg.Display.Lines)
	if err != nil {
		return err
	}
	renderer, err := render.New(render.Config{
		Width:    cfg.Stream.Width,
		Height:   cfg.Stream.Height,
		FontSize: cfg.Display.FontSize,
		Lines:    cfg.Display.Lines,
	}, font, resolver)
	if err != nil {
		return err
	}

	producer, err := sensorstream.NewProducer(store, renderer, cfg.Stream.JPEGQuality)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	server, err := newServer(cfg, producer, m)
	if err != nil {
		return err
	}

	entities := template.RequiredSensors(cfg.Display.Lines)
	slog.Info("ha-sensor-streamer starting",
		"version", version,
		"format", cfg.Stream.Format,
		"port", cfg.Stream.Port,
		"resolution", fmt.Sprintf("%dx%d", cfg.Stream.Width, cfg.Stream.Height),
		"fps", cfg.Stream.FPS,
		"locale", cfg.Display.Locale,
		"lines", len(cfg.Display.Lines),
		"sensors", entities,
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.UsesREST() {
		client, err := sensors.NewClient(cfg.HomeAssistant.BaseURL, cfg.HomeAssistant.Token, 10*time.Second)
		if err != nil {
			return err
		}
		poller, err := sensors.NewPoller(client, store, entities, cfg.HomeAssistant.PollInterval, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return poller.Run(ctx) })
	}

	if cfg.MQTT.Broker != "" {
		sub, err := sensors.NewSubscriber(sensors.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, store, entities, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return sub.Run(ctx) })
	}

	g.Go(func() error { return server.Run(ctx) })

	if statsInterval > 0 {
		g.Go(func() error {
			reportStats(ctx, server, statsInterval)
			return nil
		})
	}

	return g.Wait()
}

func newServer(cfg *config.Config, producer *sensorstream.Producer, m *metrics.Metrics) (sensorstream.StreamServer, error) {
	scfg := sensorstream.Config{
		Address:     ":" + strconv.Itoa(cfg.Stream.Port),
		Width:       cfg.Stream.Width,
		Height:      cfg.Stream.Height,
		FPS:         cfg.Stream.FPS,
		JPEGQuality: cfg.Stream.JPEGQuality,
		Path:        cfg.Stream.Path,
		BitrateKbps: cfg.Stream.BitrateKbps,
	}

	if cfg.Stream.Format == config.FormatRTSP {
		if cfg.Metrics.Enabled {
			scfg.MetricsAddress = ":" + strconv.Itoa(cfg.Metrics.Port)
		}
		return sensorstream.NewRTSPServer(scfg, producer, m)
	}
	return sensorstream.NewMJPEGServer(scfg, producer, m)
}

// reportStats logs server stats every interval until ctx is done.
func reportStats(ctx context.Context, server sensorstream.StreamServer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := server.Stats()
			slog.Info("stats",
				"transport", st.Transport,
				"consumers", st.ActiveConsumers,
				"frames", st.FrameCount,
				"skipped", st.FramesSkipped,
				"fps_target", st.FPSTarget,
				"fps_real", fmt.Sprintf("%.2f", st.FPSReal),
				"bytes_sent", st.BytesSent,
				"sensors_cached", st.SensorsCached,
				"restarts", st.Restarts,
			)
		}
	}
}
