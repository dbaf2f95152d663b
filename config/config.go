package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendCloud = "cloud"
	BackendOS    = "os"
	BackendLocal = "local"
	BackendBatch = "batch"
)

var Backends = []string{BackendCloud, BackendOS, BackendLocal, BackendBatch}

type Config struct {
	Backend     string            `yaml:"backend"`
	Language    string            `yaml:"language"`
	Device      string            `yaml:"device"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Cloud       CloudConfig       `yaml:"cloud"`
	OS          OSConfig          `yaml:"os"`
	Local       LocalConfig       `yaml:"local"`
	Batch       BatchConfig       `yaml:"batch"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type RecognitionConfig struct {
	ChunkMS          int  `yaml:"chunk_ms"`
	MinChunkMS       int  `yaml:"min_chunk_ms"`
	SkipSilentChunks bool `yaml:"skip_silent_chunks"`
	SilenceWarning   bool `yaml:"silence_warning"`

	// AutoStopOnSilence ends capture after 30 s without voice.
	AutoStopOnSilence bool `yaml:"auto_stop_on_silence"`
}

type CloudConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

type OSConfig struct {
	Command       string  `yaml:"command"`
	MinConfidence float64 `yaml:"min_confidence"`
}

type LocalConfig struct {
	ModelPath string `yaml:"model_path"`
}

type BatchConfig struct {
	Executable  string `yaml:"executable"`
	ModelPath   string `yaml:"model_path"`
	Threads     int    `yaml:"threads"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	InputFormat string `yaml:"input_format"` // wav or flac
	ExtraArgs   string `yaml:"extra_args"`
	TempDir     string `yaml:"temp_dir"`
}

type SynthesisConfig struct {
	Command   string  `yaml:"command"`
	Voice     string  `yaml:"voice"`
	Locale    string  `yaml:"locale"`
	Rate      float64 `yaml:"rate"`
	Volume    float64 `yaml:"volume"`
	TimeoutMS int     `yaml:"timeout_ms"`
}

type TelemetryConfig struct {
	LogDir         string `yaml:"log_dir"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

func Default() Config {
	return Config{
		Backend:  BackendBatch,
		Language: "en",
		Recognition: RecognitionConfig{
			ChunkMS:        2000,
			MinChunkMS:     1000,
			SilenceWarning: true,
		},
		Cloud: CloudConfig{
			Endpoint: "wss://api.deepgram.com/v1/listen",
			Model:    "nova-3",
		},
		OS: OSConfig{
			MinConfidence: 0.7,
		},
		Batch: BatchConfig{
			Executable:  "whisper-cli",
			Threads:     max(4, runtime.NumCPU()),
			TimeoutMS:   30000,
			InputFormat: "wav",
		},
		Synthesis: SynthesisConfig{
			Rate:      1.0,
			Volume:    1.0,
			TimeoutMS: 60000,
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
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Backend, "ECHOENGINE_BACKEND")
	overrideString(&cfg.Language, "ECHOENGINE_LANGUAGE")
	overrideString(&cfg.Device, "ECHOENGINE_DEVICE")
	overrideInt(&cfg.Recognition.ChunkMS, "ECHOENGINE_RECOGNITION_CHUNK_MS")
	overrideInt(&cfg.Recognition.MinChunkMS, "ECHOENGINE_RECOGNITION_MIN_CHUNK_MS")
	overrideBool(&cfg.Recognition.SkipSilentChunks, "ECHOENGINE_RECOGNITION_SKIP_SILENT_CHUNKS")
	overrideBool(&cfg.Recognition.SilenceWarning, "ECHOENGINE_RECOGNITION_SILENCE_WARNING")
	overrideBool(&cfg.Recognition.AutoStopOnSilence, "ECHOENGINE_RECOGNITION_AUTO_STOP")
	overrideString(&cfg.Cloud.APIKey, "DEEPGRAM_API_KEY")
	overrideString(&cfg.Cloud.APIKey, "ECHOENGINE_CLOUD_API_KEY")
	overrideString(&cfg.Cloud.Endpoint, "ECHOENGINE_CLOUD_ENDPOINT")
	overrideString(&cfg.Cloud.Model, "ECHOENGINE_CLOUD_MODEL")
	overrideString(&cfg.OS.Command, "ECHOENGINE_OS_COMMAND")
	overrideFloat(&cfg.OS.MinConfidence, "ECHOENGINE_OS_MIN_CONFIDENCE")
	overrideString(&cfg.Local.ModelPath, "ECHOENGINE_LOCAL_MODEL_PATH")
	overrideString(&cfg.Batch.Executable, "ECHOENGINE_BATCH_EXECUTABLE")
	overrideString(&cfg.Batch.ModelPath, "ECHOENGINE_BATCH_MODEL_PATH")
	overrideInt(&cfg.Batch.Threads, "ECHOENGINE_BATCH_THREADS")
	overrideInt(&cfg.Batch.TimeoutMS, "ECHOENGINE_BATCH_TIMEOUT_MS")
	overrideString(&cfg.Batch.InputFormat, "ECHOENGINE_BATCH_INPUT_FORMAT")
	overrideString(&cfg.Batch.ExtraArgs, "ECHOENGINE_BATCH_EXTRA_ARGS")
	overrideString(&cfg.Batch.TempDir, "ECHOENGINE_BATCH_TEMP_DIR")
	overrideString(&cfg.Synthesis.Command, "ECHOENGINE_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "ECHOENGINE_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Locale, "ECHOENGINE_SYNTHESIS_LOCALE")
	overrideFloat(&cfg.Synthesis.Rate, "ECHOENGINE_SYNTHESIS_RATE")
	overrideFloat(&cfg.Synthesis.Volume, "ECHOENGINE_SYNTHESIS_VOLUME")
	overrideInt(&cfg.Synthesis.TimeoutMS, "ECHOENGINE_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogDir, "ECHOENGINE_LOG_PATH")
	overrideString(&cfg.Telemetry.PrometheusBind, "ECHOENGINE_PROMETHEUS_BIND")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate checks ranges only. Language, voice and locale strings are
// handed to the engines unchanged.
func (cfg Config) Validate() error {
	if !validBackend(cfg.Backend) {
		return fmt.Errorf("backend must be one of %s, got %q", strings.Join(Backends, ", "), cfg.Backend)
	}
	if strings.TrimSpace(cfg.Language) == "" {
		return errors.New("language must not be empty")
	}
	if cfg.Recognition.ChunkMS <= 0 {
		return errors.New("recognition.chunk_ms must be positive")
	}
	if cfg.Recognition.MinChunkMS <= 0 {
		return errors.New("recognition.min_chunk_ms must be positive")
	}
	if cfg.OS.MinConfidence < 0 || cfg.OS.MinConfidence > 1 {
		return errors.New("os.min_confidence must be between 0 and 1")
	}
	if cfg.Batch.Threads <= 0 {
		return errors.New("batch.threads must be positive")
	}
	if cfg.Batch.TimeoutMS <= 0 {
		return errors.New("batch.timeout_ms must be positive")
	}
	switch cfg.Batch.InputFormat {
	case "wav", "flac":
	default:
		return fmt.Errorf("batch.input_format must be wav or flac, got %q", cfg.Batch.InputFormat)
	}
	if cfg.Synthesis.Rate <= 0 {
		return errors.New("synthesis.rate must be positive")
	}
	if cfg.Synthesis.Volume < 0 || cfg.Synthesis.Volume > 1 {
		return errors.New("synthesis.volume must be between 0 and 1")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	return nil
}

func validBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

func (r RecognitionConfig) Interval() time.Duration {
	return time.Duration(r.ChunkMS) * time.Millisecond
}

func (r RecognitionConfig) MinChunk() time.Duration {
	return time.Duration(r.MinChunkMS) * time.Millisecond
}

func (b BatchConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

func (s SynthesisConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
