package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] before validation.
const (
	DefaultSampleRate     = 16000
	DefaultWindowSamples  = 15600
	DefaultTopK           = 10
	DefaultMinScore       = 0.5
	DefaultWindowDetect   = 5
	DefaultPersistence    = 3
	DefaultDecay          = 15
	DefaultSampleDuration = 3 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultMQTTPort       = 1883
	DefaultPublishTimeout = 2 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys fail decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Classifier.SampleRate == 0 {
		cfg.Classifier.SampleRate = DefaultSampleRate
	}
	if cfg.Classifier.WindowSamples == 0 {
		cfg.Classifier.WindowSamples = DefaultWindowSamples
	}
	if cfg.Scoring.TopK == 0 {
		cfg.Scoring.TopK = DefaultTopK
	}
	if cfg.Scoring.DefaultMinScore == 0 {
		cfg.Scoring.DefaultMinScore = DefaultMinScore
	}
	if cfg.Scoring.AggregationMethod == "" {
		cfg.Scoring.AggregationMethod = "max"
	}
	if cfg.Events.WindowDetect == 0 {
		cfg.Events.WindowDetect = DefaultWindowDetect
	}
	if cfg.Events.Persistence == 0 {
		cfg.Events.Persistence = DefaultPersistence
	}
	if cfg.Events.Decay == 0 {
		cfg.Events.Decay = DefaultDecay
	}
	if cfg.Events.SampleDuration == 0 {
		cfg.Events.SampleDuration = Duration(DefaultSampleDuration)
	}
	if cfg.Publish.Sink == "" {
		cfg.Publish.Sink = "log"
	}
	if cfg.Publish.MQTT.Port == 0 {
		cfg.Publish.MQTT.Port = DefaultMQTTPort
	}
	if cfg.Publish.MQTT.PublishTimeout == 0 {
		cfg.Publish.MQTT.PublishTimeout = Duration(DefaultPublishTimeout)
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].ReadTimeout == 0 {
			cfg.Sources[i].ReadTimeout = Duration(DefaultReadTimeout)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Classifier
	if cfg.Classifier.Backend == "" {
		errs = append(errs, errors.New("classifier.backend is required"))
	}
	if cfg.Classifier.ClassMapPath == "" {
		errs = append(errs, errors.New("classifier.class_map_path is required"))
	}
	if cfg.Classifier.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("classifier.sample_rate %d must be positive", cfg.Classifier.SampleRate))
	}
	if cfg.Classifier.WindowSamples <= 0 {
		errs = append(errs, fmt.Errorf("classifier.window_samples %d must be positive", cfg.Classifier.WindowSamples))
	}

	// Scoring
	if cfg.Scoring.NoiseThreshold < 0 || cfg.Scoring.NoiseThreshold > 1 {
		errs = append(errs, fmt.Errorf("scoring.noise_threshold %.2f is out of range [0, 1]", cfg.Scoring.NoiseThreshold))
	}
	if cfg.Scoring.TopK < 1 || cfg.Scoring.TopK > 20 {
		errs = append(errs, fmt.Errorf("scoring.top_k %d is out of range [1, 20]", cfg.Scoring.TopK))
	}
	if cfg.Scoring.DefaultMinScore < 0 || cfg.Scoring.DefaultMinScore > 1 {
		errs = append(errs, fmt.Errorf("scoring.default_min_score %.2f is out of range [0, 1]", cfg.Scoring.DefaultMinScore))
	}
	switch cfg.Scoring.AggregationMethod {
	case "max", "mean":
	default:
		errs = append(errs, fmt.Errorf("scoring.aggregation_method %q is invalid; valid values: max, mean", cfg.Scoring.AggregationMethod))
	}

	// Sounds
	for group, f := range cfg.Sounds.Filters {
		if f.MinScore < 0 || f.MinScore > 1 {
			errs = append(errs, fmt.Errorf("sounds.filters[%s].min_score %.2f is out of range [0, 1]", group, f.MinScore))
		}
	}
	if len(cfg.Sounds.Track) == 0 {
		slog.Warn("sounds.track is empty; no events will be detected")
	}

	// Events
	if cfg.Events.WindowDetect < 1 {
		errs = append(errs, fmt.Errorf("events.window_detect %d must be at least 1", cfg.Events.WindowDetect))
	}
	if cfg.Events.Persistence < 1 {
		errs = append(errs, fmt.Errorf("events.persistence %d must be at least 1", cfg.Events.Persistence))
	} else if cfg.Events.WindowDetect >= 1 && cfg.Events.Persistence > cfg.Events.WindowDetect {
		errs = append(errs, fmt.Errorf("events.persistence %d exceeds events.window_detect %d", cfg.Events.Persistence, cfg.Events.WindowDetect))
	}
	if cfg.Events.Decay < 1 {
		errs = append(errs, fmt.Errorf("events.decay %d must be at least 1", cfg.Events.Decay))
	}
	if cfg.Events.SampleDuration < 0 {
		errs = append(errs, fmt.Errorf("events.sample_duration %s must not be negative", cfg.Events.SampleDuration.Std()))
	}

	// Publish
	switch cfg.Publish.Sink {
	case "log":
	case "mqtt":
		if cfg.Publish.MQTT.Host == "" {
			errs = append(errs, errors.New("publish.mqtt.host is required when publish.sink is mqtt"))
		}
		if cfg.Publish.MQTT.Port < 1 || cfg.Publish.MQTT.Port > 65535 {
			errs = append(errs, fmt.Errorf("publish.mqtt.port %d is out of range [1, 65535]", cfg.Publish.MQTT.Port))
		}
		if cfg.Publish.MQTT.TopicPrefix == "" {
			errs = append(errs, errors.New("publish.mqtt.topic_prefix is required when publish.sink is mqtt"))
		}
	default:
		errs = append(errs, fmt.Errorf("publish.sink %q is invalid; valid values: mqtt, log", cfg.Publish.Sink))
	}

	// Sound log
	if cfg.SoundLog.Enabled && cfg.SoundLog.Dir == "" {
		errs = append(errs, errors.New("sound_log.dir is required when sound_log.enabled is true"))
	}

	// Sources
	if len(cfg.Sources) == 0 {
		errs = append(errs, errors.New("sources must list at least one audio source"))
	}
	namesSeen := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[src.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of sources[%d]", prefix, src.Name, prev))
			}
			namesSeen[src.Name] = i
		}
		if src.Backend == "" {
			errs = append(errs, fmt.Errorf("%s.backend is required", prefix))
		}
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
		if src.ReadTimeout < 0 {
			errs = append(errs, fmt.Errorf("%s.read_timeout %s must not be negative", prefix, src.ReadTimeout.Std()))
		}
	}

	return errors.Join(errs...)
}

// WarnUnknownGroups logs a warning for each tracked, filtered, or excluded
// group that is not present in the loaded class map. Called by the app once
// the class map is available; typos here silently disable detection, so they
// are surfaced loudly but are not fatal.
func (c *Config) WarnUnknownGroups(known []string) {
	check := func(where, group string) {
		if !slices.Contains(known, group) {
			slog.Warn("group not present in class map",
				"where", where,
				"group", group,
			)
		}
	}
	for _, g := range c.Sounds.Track {
		check("sounds.track", g)
	}
	for g := range c.Sounds.Filters {
		check("sounds.filters", g)
	}
	for _, g := range c.Scoring.ExcludeGroups {
		check("scoring.exclude_groups", g)
	}
}
