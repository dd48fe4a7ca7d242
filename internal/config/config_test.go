package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

var haEnv = map[string]string{
	"HA_BASE_URL":         "http://homeassistant.local:8123/",
	"HA_LONG_LIVED_TOKEN": "token",
}

func withHA(extra map[string]string) map[string]string {
	m := make(map[string]string, len(haEnv)+len(extra))
	for k, v := range haEnv {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", env(haEnv))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HomeAssistant.BaseURL != "http://homeassistant.local:8123" {
		t.Errorf("BaseURL = %q, trailing slash not trimmed", cfg.HomeAssistant.BaseURL)
	}
	if cfg.Stream.Format != FormatMJPEG || cfg.Stream.Port != 8080 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Stream.Width != 640 || cfg.Stream.Height != 360 || cfg.Stream.FPS != 5 || cfg.Stream.JPEGQuality != 80 {
		t.Errorf("video defaults = %+v", cfg.Stream)
	}
	if cfg.Display.FontSize != 48 || cfg.Display.Locale != "en_US" {
		t.Errorf("display defaults = %+v", cfg.Display)
	}
	if cfg.HomeAssistant.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v", cfg.HomeAssistant.PollInterval)
	}

	want := []string{"{time:%Y-%m-%d}", "{time:%H.%M}", "{sensor.ute_kombinerad}°"}
	if !reflect.DeepEqual(cfg.Display.Lines, want) {
		t.Errorf("Lines = %q, want %q", cfg.Display.Lines, want)
	}
	if !cfg.UsesREST() {
		t.Error("UsesREST() = false with URL and token set")
	}
}

func TestLoad_LegacyLines(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want []string
	}{
		{
			name: "legacy formats",
			vars: map[string]string{"DATE_FORMAT": "%d/%m", "TIME_FORMAT": "%H:%M", "SENSOR_ENTITY_ID": "outdoor"},
			want: []string{"{time:%d/%m}", "{time:%H:%M}", "{sensor.outdoor}°"},
		},
		{
			name: "entity id already prefixed",
			vars: map[string]string{"SENSOR_ENTITY_ID": "sensor.outdoor"},
			want: []string{"{time:%Y-%m-%d}", "{time:%H.%M}", "{sensor.outdoor}°"},
		},
		{
			name: "explicit lines win",
			vars: map[string]string{"LINE_1": "{time:%H:%M}", "LINE_3": "T {sensor.temp}", "SENSOR_ENTITY_ID": "x"},
			want: []string{"{time:%H:%M}", "T {sensor.temp}"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", env(withHA(tt.vars)))
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if !reflect.DeepEqual(cfg.Display.Lines, tt.want) {
				t.Errorf("Lines = %q, want %q", cfg.Display.Lines, tt.want)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load("", env(withHA(map[string]string{
		"STREAM_FORMAT":   "RTSP",
		"PORT":            "8554",
		"VIDEO_WIDTH":     "1280",
		"VIDEO_HEIGHT":    "720",
		"VIDEO_FPS":       "10",
		"FONT_SIZE":       "64.5",
		"LOCALE":          "sv_SE",
		"POLL_INTERVAL":   "30",
		"METRICS_ENABLED": "false",
		"JPEG_QUALITY":    "90",
	})))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Stream.Format != FormatRTSP || cfg.Stream.Port != 8554 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Stream.Width != 1280 || cfg.Stream.Height != 720 || cfg.Stream.FPS != 10 || cfg.Stream.JPEGQuality != 90 {
		t.Errorf("video = %+v", cfg.Stream)
	}
	if cfg.Display.FontSize != 64.5 || cfg.Display.Locale != "sv_SE" {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.HomeAssistant.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.HomeAssistant.PollInterval)
	}
	if cfg.Metrics.Enabled {
		t.Error("METRICS_ENABLED=false ignored")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		msg  string
	}{
		{"bad number", withHA(map[string]string{"VIDEO_FPS": "five"}), "VIDEO_FPS"},
		{"fps too high", withHA(map[string]string{"VIDEO_FPS": "120"}), "fps"},
		{"zero width", withHA(map[string]string{"VIDEO_WIDTH": "0"}), "resolution"},
		{"bad format", withHA(map[string]string{"STREAM_FORMAT": "hls"}), "stream.format"},
		{"bad quality", withHA(map[string]string{"JPEG_QUALITY": "101"}), "jpeg_quality"},
		{"bad font size", withHA(map[string]string{"FONT_SIZE": "-1"}), "font_size"},
		{"missing token", map[string]string{"HA_BASE_URL": "http://ha:8123"}, "token"},
		{"missing url", map[string]string{}, "base_url"},
		{"bad interval", withHA(map[string]string{"POLL_INTERVAL": "soon"}), "POLL_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", env(tt.vars))
			if err == nil {
				t.Fatal("Load() returned nil error")
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestLoad_MQTTOnly(t *testing.T) {
	cfg, err := Load("", env(map[string]string{"MQTT_BROKER": "mqtt.local:1883"}))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.UsesREST() {
		t.Error("UsesREST() = true without Home Assistant URL")
	}
	if cfg.MQTT.TopicPrefix != "homeassistant" {
		t.Errorf("TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamer.yaml")
	data := `
home_assistant:
  base_url: http://ha:8123
  token: from-file
  poll_interval: 5s
stream:
  format: rtsp
  port: 8554
  fps: 15
display:
  locale: de_DE
  lines:
    - "{time:%H:%M:%S}"
    - "Inne {sensor.indoor}"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	// Environment wins over the file
	cfg, err := Load(path, env(map[string]string{"HA_LONG_LIVED_TOKEN": "from-env"}))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HomeAssistant.Token != "from-env" {
		t.Errorf("Token = %q, want env value", cfg.HomeAssistant.Token)
	}
	if cfg.HomeAssistant.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.HomeAssistant.PollInterval)
	}
	if cfg.Stream.Format != FormatRTSP || cfg.Stream.FPS != 15 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	// Untouched fields keep their defaults
	if cfg.Stream.Width != 640 || cfg.Display.FontSize != 48 {
		t.Errorf("defaults lost: %+v %+v", cfg.Stream, cfg.Display)
	}
	want := []string{"{time:%H:%M:%S}", "Inne {sensor.indoor}"}
	if !reflect.DeepEqual(cfg.Display.Lines, want) {
		t.Errorf("Lines = %q, want %q", cfg.Display.Lines, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), env(haEnv)); err == nil {
		t.Error("Load() with missing file returned nil error")
	}
}
