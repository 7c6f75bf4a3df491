package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/soundsentry/soundsentry/internal/config"
)

const validYAML = `
server:
  log_level: debug
  metrics_addr: ":9464"
classifier:
  backend: tflite
  model_path: ./files/yamnet.tflite
  class_map_path: ./files/yamnet_class_map.csv
  sample_rate: 16000
  window_samples: 15600
scoring:
  noise_threshold: 0.1
  top_k: 10
  default_min_score: 0.5
  aggregation_method: max
  exclude_groups: [silence]
sounds:
  track: [birds, people, alarms]
  filters:
    birds:
      min_score: 0.7
events:
  window_detect: 5
  persistence: 3
  decay: 15
  sample_duration: 3s
publish:
  sink: mqtt
  mqtt:
    host: broker.local
    port: 1883
    topic_prefix: soundsentry
    client_id: soundsentry
    publish_timeout: 2s
summary_interval: 15m
sound_log:
  enabled: false
sources:
  - name: front_door
    backend: ffmpeg
    url: rtsp://cam.local:554/stream
    read_timeout: 30s
  - name: garden
    backend: websocket
    url: ws://bridge.local:8080/pcm
`

func load(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg := load(t, validYAML)

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Classifier.Backend != "tflite" {
		t.Errorf("classifier.backend = %q, want tflite", cfg.Classifier.Backend)
	}
	if got := cfg.Events.SampleDuration.Std(); got != 3*time.Second {
		t.Errorf("sample_duration = %v, want 3s", got)
	}
	if got := cfg.SummaryInterval.Std(); got != 15*time.Minute {
		t.Errorf("summary_interval = %v, want 15m", got)
	}
	if f, ok := cfg.Sounds.Filters["birds"]; !ok || f.MinScore != 0.7 {
		t.Errorf("filters[birds] = %+v, want min_score 0.7", f)
	}
	if len(cfg.Sources) != 2 || cfg.Sources[1].Name != "garden" {
		t.Fatalf("sources = %+v, want front_door and garden", cfg.Sources)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := load(t, `
classifier:
  backend: tflite
  class_map_path: ./files/yamnet_class_map.csv
sources:
  - name: cam
    backend: ffmpeg
    url: rtsp://cam.local/stream
`)

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Classifier.SampleRate != config.DefaultSampleRate {
		t.Errorf("default sample_rate = %d, want %d", cfg.Classifier.SampleRate, config.DefaultSampleRate)
	}
	if cfg.Classifier.WindowSamples != config.DefaultWindowSamples {
		t.Errorf("default window_samples = %d, want %d", cfg.Classifier.WindowSamples, config.DefaultWindowSamples)
	}
	if cfg.Scoring.TopK != config.DefaultTopK {
		t.Errorf("default top_k = %d, want %d", cfg.Scoring.TopK, config.DefaultTopK)
	}
	if cfg.Scoring.AggregationMethod != "max" {
		t.Errorf("default aggregation_method = %q, want max", cfg.Scoring.AggregationMethod)
	}
	if cfg.Publish.Sink != "log" {
		t.Errorf("default publish.sink = %q, want log", cfg.Publish.Sink)
	}
	if got := cfg.Events.SampleDuration.Std(); got != config.DefaultSampleDuration {
		t.Errorf("default sample_duration = %v, want %v", got, config.DefaultSampleDuration)
	}
	if got := cfg.Sources[0].ReadTimeout.Std(); got != config.DefaultReadTimeout {
		t.Errorf("default read_timeout = %v, want %v", got, config.DefaultReadTimeout)
	}
}

func TestLoadFromReader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	yaml := `
classifier:
  backend: tflite
  class_map_path: ./map.csv
  window_size: 15600
sources:
  - name: cam
    backend: ffmpeg
    url: rtsp://cam.local/stream
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("LoadFromReader accepted an unknown key")
	}
}

func TestLoadFromReader_RejectsMalformedDuration(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "sample_duration: 3s", "sample_duration: soon", 1)
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("LoadFromReader accepted a malformed duration")
	}
}

func TestValidate_ReportsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := load(t, validYAML)
	cfg.Scoring.NoiseThreshold = 1.5
	cfg.Scoring.TopK = 0
	cfg.Events.Persistence = 9
	cfg.Sources[1].Name = "front_door"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate passed a config with four failures")
	}
	for _, want := range []string{
		"noise_threshold",
		"top_k",
		"persistence",
		"duplicate",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "verbose" }},
		{"missing classifier backend", func(c *config.Config) { c.Classifier.Backend = "" }},
		{"missing class map", func(c *config.Config) { c.Classifier.ClassMapPath = "" }},
		{"top_k above 20", func(c *config.Config) { c.Scoring.TopK = 21 }},
		{"bad aggregation", func(c *config.Config) { c.Scoring.AggregationMethod = "sum" }},
		{"bad filter min score", func(c *config.Config) {
			c.Sounds.Filters["birds"] = config.GroupFilter{MinScore: 1.5}
		}},
		{"zero window_detect", func(c *config.Config) { c.Events.WindowDetect = 0 }},
		{"zero decay", func(c *config.Config) { c.Events.Decay = 0 }},
		{"persistence above window", func(c *config.Config) { c.Events.Persistence = c.Events.WindowDetect + 1 }},
		{"unknown sink", func(c *config.Config) { c.Publish.Sink = "kafka" }},
		{"mqtt without host", func(c *config.Config) { c.Publish.MQTT.Host = "" }},
		{"mqtt bad port", func(c *config.Config) { c.Publish.MQTT.Port = 70000 }},
		{"sound log without dir", func(c *config.Config) {
			c.SoundLog.Enabled = true
			c.SoundLog.Dir = ""
		}},
		{"no sources", func(c *config.Config) { c.Sources = nil }},
		{"source without url", func(c *config.Config) { c.Sources[0].URL = "" }},
		{"source without backend", func(c *config.Config) { c.Sources[0].Backend = "" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := load(t, validYAML)
			tc.mutate(cfg)
			if err := config.Validate(cfg); err == nil {
				t.Errorf("Validate passed after mutation %q", tc.name)
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("\"trace\" reported valid")
	}
}
