// Package config loads the streamer configuration from an optional YAML
// file and the process environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stream formats.
const (
	FormatMJPEG = "mjpeg"
	FormatRTSP  = "rtsp"
)

// Config is the complete streamer configuration.
type Config struct {
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Stream        StreamConfig        `yaml:"stream"`
	Display       DisplayConfig       `yaml:"display"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Log           LogConfig           `yaml:"log"`
}

// HomeAssistantConfig contains REST API settings
type HomeAssistantConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	PollInterval time.Duration `yaml:"poll_interval"` // e.g. "10s"
}

// MQTTConfig contains the optional statestream subscriber settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty disables MQTT
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// StreamConfig contains transport and video settings
type StreamConfig struct {
	Format      string `yaml:"format"` // mjpeg, rtsp
	Port        int    `yaml:"port"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	BitrateKbps int    `yaml:"bitrate_kbps"` // rtsp only, 0 keeps the encoder default
	Path        string `yaml:"path"`         // rtsp mount point
}

// DisplayConfig contains text layout settings
type DisplayConfig struct {
	FontSize float64  `yaml:"font_size"`
	FontPath string   `yaml:"font_path"` // empty selects the embedded Go Regular face
	Locale   string   `yaml:"locale"`
	Lines    []string `yaml:"lines"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"` // separate listener in rtsp mode
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Legacy single-sensor layout used when no LINE_n is set.
const (
	defaultDateFormat = "%Y-%m-%d"
	defaultTimeFormat = "%H.%M"
	defaultSensorID   = "sensor.ute_kombinerad"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HomeAssistant: HomeAssistantConfig{PollInterval: 10 * time.Second},
		MQTT:          MQTTConfig{TopicPrefix: "homeassistant"},
		Stream: StreamConfig{
			Format:      FormatMJPEG,
			Port:        8080,
			Width:       640,
			Height:      360,
			FPS:         5,
			JPEGQuality: 80,
			Path:        "stream",
		},
		Display: DisplayConfig{
			FontSize: 48,
			Locale:   "en_US",
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides, then validation.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse config: %w", err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the environment on cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HA_BASE_URL", &cfg.HomeAssistant.BaseURL)
	str("HA_LONG_LIVED_TOKEN", &cfg.HomeAssistant.Token)
	str("STREAM_FORMAT", &cfg.Stream.Format)
	str("LOCALE", &cfg.Display.Locale)
	str("FONT_PATH", &cfg.Display.FontPath)
	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_USERNAME", &cfg.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	for key, dst := range map[string]*int{
		"PORT":          &cfg.Stream.Port,
		"VIDEO_WIDTH":   &cfg.Stream.Width,
		"VIDEO_HEIGHT":  &cfg.Stream.Height,
		"VIDEO_FPS":     &cfg.Stream.FPS,
		"JPEG_QUALITY":  &cfg.Stream.JPEGQuality,
		"VIDEO_BITRATE": &cfg.Stream.BitrateKbps,
		"METRICS_PORT":  &cfg.Metrics.Port,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("FONT_SIZE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("config: FONT_SIZE: %w", err)
		}
		cfg.Display.FontSize = f
	}
	if v, ok := lookup("POLL_INTERVAL"); ok && v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("config: POLL_INTERVAL: %w", err)
		}
		cfg.HomeAssistant.PollInterval = d
	}
	if v, ok := lookup("METRICS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}

	cfg.Display.Lines = envLines(cfg.Display.Lines, lookup)
	return nil
}

// parseInterval accepts a Go duration ("10s") or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// envLines returns LINE_1..LINE_4 when any is set. Otherwise it keeps the
// lines from the file, or falls back to the legacy date/time/sensor layout.
func envLines(fromFile []string, lookup LookupFunc) []string {
	var lines []string
	for i := 1; i <= 4; i++ {
		if v, ok := lookup("LINE_" + strconv.Itoa(i)); ok && v != "" {
			lines = append(lines, v)
		}
	}
	if len(lines) > 0 {
		return lines
	}
	if len(fromFile) > 0 {
		return fromFile
	}

	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}
	sensorID := get("SENSOR_ENTITY_ID", defaultSensorID)
	fragment := strings.TrimPrefix(sensorID, "sensor.")

	return []string{
		"{time:" + get("DATE_FORMAT", defaultDateFormat) + "}",
		"{time:" + get("TIME_FORMAT", defaultTimeFormat) + "}",
		"{sensor." + fragment + "}°",
	}
}

// Validate checks cfg and normalizes what it can.
func Validate(cfg *Config) error {
	cfg.HomeAssistant.BaseURL = strings.TrimRight(cfg.HomeAssistant.BaseURL, "/")
	cfg.Stream.Format = strings.ToLower(strings.TrimSpace(cfg.Stream.Format))
	cfg.Stream.Path = strings.Trim(cfg.Stream.Path, "/")

	switch cfg.Stream.Format {
	case FormatMJPEG, FormatRTSP:
	default:
		return fmt.Errorf("stream.format must be %q or %q, got %q", FormatMJPEG, FormatRTSP, cfg.Stream.Format)
	}

	if cfg.Stream.Width <= 0 || cfg.Stream.Height <= 0 {
		return fmt.Errorf("stream resolution must be > 0, got %dx%d", cfg.Stream.Width, cfg.Stream.Height)
	}
	if cfg.Stream.FPS < 1 || cfg.Stream.FPS > 60 {
		return fmt.Errorf("stream.fps must be in [1, 60], got %d", cfg.Stream.FPS)
	}
	if cfg.Stream.JPEGQuality < 1 || cfg.Stream.JPEGQuality > 100 {
		return fmt.Errorf("stream.jpeg_quality must be in [1, 100], got %d", cfg.Stream.JPEGQuality)
	}
	if cfg.Stream.Port <= 0 || cfg.Stream.Port > 65535 {
		return fmt.Errorf("stream.port out of range: %d", cfg.Stream.Port)
	}
	if cfg.Stream.Path == "" {
		cfg.Stream.Path = "stream"
	}
	if cfg.Stream.BitrateKbps < 0 {
		return fmt.Errorf("stream.bitrate_kbps must be >= 0")
	}

	if cfg.Display.FontSize <= 0 {
		return fmt.Errorf("display.font_size must be > 0")
	}
	if len(cfg.Display.Lines) == 0 {
		return fmt.Errorf("at least one display line is required")
	}

	// MQTT alone can feed the cache
	if cfg.MQTT.Broker == "" {
		if cfg.HomeAssistant.BaseURL == "" {
			return fmt.Errorf("home_assistant.base_url is required")
		}
		if cfg.HomeAssistant.Token == "" {
			return fmt.Errorf("home_assistant.token is required")
		}
	}
	if cfg.HomeAssistant.BaseURL != "" && cfg.HomeAssistant.PollInterval <= 0 {
		return fmt.Errorf("home_assistant.poll_interval must be > 0")
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "homeassistant"
	}

	if cfg.Metrics.Enabled && cfg.Stream.Format == FormatRTSP {
		if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port out of range: %d", cfg.Metrics.Port)
		}
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

// UsesREST reports whether the Home Assistant REST poller should run.
func (c *Config) UsesREST() bool {
	return c.HomeAssistant.BaseURL != "" && c.HomeAssistant.Token != ""
}
