package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Speak       SpeakConfig      `yaml:"speak"`
	Collab      CollabConfig     `yaml:"collab"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUtterances int    `yaml:"max_utterances"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SpeakConfig wires the external collaborators of one spoken response:
// the text generator, the speech synthesizer, the playback command, and
// the optional ambient cue played while the generator is working.
type SpeakConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Generator       GeneratorConfig `yaml:"generator"`
	Synth           SynthConfig     `yaml:"synth"`
	Playback        PlaybackConfig  `yaml:"playback"`
	Ambient         AmbientConfig   `yaml:"ambient"`
	FallbackMessage string          `yaml:"fallback_message"`
}

type GeneratorConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, ollama
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SynthConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

type PlaybackConfig struct {
	Mode    string `yaml:"mode"` // mock, exec
	Command string `yaml:"command"`
}

type AmbientConfig struct {
	CuePath  string `yaml:"cue_path"`
	GapMinMS int    `yaml:"gap_min_ms"`
	GapMaxMS int    `yaml:"gap_max_ms"`
}

type CollabConfig struct {
	Enabled         bool `yaml:"enabled"`
	ProbeIntervalMS int  `yaml:"probe_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "whisperpocket",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/wp-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxUtterances: 10000,
		},
		Speak: SpeakConfig{
			Enabled: true,
			Generator: GeneratorConfig{
				Mode:      "exec",
				Command:   "openclaw agent --agent main --message",
				Endpoint:  "http://localhost:11434",
				Model:     "llama3.2:latest",
				TimeoutMS: 180000,
			},
			Synth: SynthConfig{
				Mode:    "exec",
				Command: "pocket-tts generate",
			},
			Playback: PlaybackConfig{
				Mode:    "exec",
				Command: "afplay",
			},
			Ambient: AmbientConfig{
				CuePath:  "",
				GapMinMS: 80,
				GapMaxMS: 500,
			},
			FallbackMessage: "Sorry, I didn't get a response.",
		},
		Collab: CollabConfig{
			Enabled:         true,
			ProbeIntervalMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "WP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "WP_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "WP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "WP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "WP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "WP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "WP_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "WP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "WP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "WP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "WP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "WP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "WP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "WP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "WP_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "WP_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "WP_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "WP_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxUtterances, "WP_EVENT_STORE_MAX_UTTERANCES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "WP_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Speak.Enabled, "WP_SPEAK_ENABLED")
	overrideString(&cfg.Speak.Generator.Mode, "WP_GENERATOR_MODE")
	overrideString(&cfg.Speak.Generator.Command, "WP_GENERATOR_COMMAND")
	overrideString(&cfg.Speak.Generator.Endpoint, "WP_GENERATOR_ENDPOINT")
	overrideString(&cfg.Speak.Generator.Model, "WP_GENERATOR_MODEL")
	overrideInt(&cfg.Speak.Generator.TimeoutMS, "WP_GENERATOR_TIMEOUT_MS")
	overrideString(&cfg.Speak.Synth.Mode, "WP_SYNTH_MODE")
	overrideString(&cfg.Speak.Synth.Command, "WP_SYNTH_COMMAND")
	overrideString(&cfg.Speak.Playback.Mode, "WP_PLAYBACK_MODE")
	overrideString(&cfg.Speak.Playback.Command, "WP_PLAYBACK_COMMAND")
	overrideString(&cfg.Speak.Ambient.CuePath, "WP_AMBIENT_CUE_PATH")
	overrideInt(&cfg.Speak.Ambient.GapMinMS, "WP_AMBIENT_GAP_MIN_MS")
	overrideInt(&cfg.Speak.Ambient.GapMaxMS, "WP_AMBIENT_GAP_MAX_MS")
	overrideString(&cfg.Speak.FallbackMessage, "WP_SPEAK_FALLBACK_MESSAGE")
	overrideBool(&cfg.Collab.Enabled, "WP_COLLAB_ENABLED")
	overrideInt(&cfg.Collab.ProbeIntervalMS, "WP_COLLAB_PROBE_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Speak.Enabled {
		switch cfg.Speak.Generator.Mode {
		case "mock", "exec", "ollama":
		default:
			return errors.New("speak.generator.mode must be one of mock|exec|ollama")
		}
		if cfg.Speak.Generator.Mode == "exec" && cfg.Speak.Generator.Command == "" {
			return errors.New("speak.generator.command must be set when mode=exec")
		}
		if cfg.Speak.Generator.Mode == "ollama" && cfg.Speak.Generator.Endpoint == "" {
			return errors.New("speak.generator.endpoint must be set when mode=ollama")
		}
		if cfg.Speak.Generator.TimeoutMS <= 0 {
			return errors.New("speak.generator.timeout_ms must be positive")
		}
		switch cfg.Speak.Synth.Mode {
		case "mock", "exec":
		default:
			return errors.New("speak.synth.mode must be one of mock|exec")
		}
		if cfg.Speak.Synth.Mode == "exec" && cfg.Speak.Synth.Command == "" {
			return errors.New("speak.synth.command must be set when mode=exec")
		}
		switch cfg.Speak.Playback.Mode {
		case "mock", "exec":
		default:
			return errors.New("speak.playback.mode must be one of mock|exec")
		}
		if cfg.Speak.Playback.Mode == "exec" && cfg.Speak.Playback.Command == "" {
			return errors.New("speak.playback.command must be set when mode=exec")
		}
		if cfg.Speak.Ambient.GapMinMS < 0 || cfg.Speak.Ambient.GapMaxMS < cfg.Speak.Ambient.GapMinMS {
			return errors.New("speak.ambient gap bounds must satisfy 0 <= gap_min_ms <= gap_max_ms")
		}
		if cfg.Speak.FallbackMessage == "" {
			return errors.New("speak.fallback_message must not be empty")
		}
	}
	if cfg.Collab.Enabled && cfg.Collab.ProbeIntervalMS <= 0 {
		return errors.New("collab.probe_interval_ms must be positive")
	}
	return nil
}
