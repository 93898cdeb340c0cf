package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Application settings
	Verbose      bool   `mapstructure:"verbose"`
	LogLevel     string `mapstructure:"log_level"`
	OutputFormat string `mapstructure:"output_format"`
	ConfigDir    string `mapstructure:"config_dir"`

	// Feature extraction backend
	Extraction ExtractionConfig `mapstructure:"extraction"`

	// External peer process
	Bridge BridgeConfig `mapstructure:"bridge"`

	// Inference model files
	Model ModelConfig `mapstructure:"model"`

	// Framing and cadence
	Analysis AnalysisConfig `mapstructure:"analysis"`

	// Stream (URL) input
	Stream StreamConfig `mapstructure:"stream"`

	// Output configuration
	Output OutputConfig `mapstructure:"output"`

	// Operational metrics
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ExtractionConfig selects and tunes the feature extractor
type ExtractionConfig struct {
	Backend          string  `mapstructure:"backend"`
	Fallback         bool    `mapstructure:"fallback"`
	FFTSize          int     `mapstructure:"fft_size"`
	SampleRate       int     `mapstructure:"sample_rate"`
	MelFilters       int     `mapstructure:"mel_filters"`
	MFCCCoefficients int     `mapstructure:"mfcc_coefficients"`
	RolloffThreshold float64 `mapstructure:"rolloff_threshold"`
}

// BridgeConfig controls the external extractor process
type BridgeConfig struct {
	Executable       string        `mapstructure:"executable"`
	Args             []string      `mapstructure:"args"`
	Env              []string      `mapstructure:"env"`
	Codec            string        `mapstructure:"codec"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MaxFrameSize     int           `mapstructure:"max_frame_size"`
}

// ModelConfig locates the inference network files
type ModelConfig struct {
	Weights     string   `mapstructure:"weights"`
	Scaler      string   `mapstructure:"scaler"`
	SearchPaths []string `mapstructure:"search_paths"`
	Disabled    bool     `mapstructure:"disabled"`
}

// AnalysisConfig controls framing and the analysis cadence
type AnalysisConfig struct {
	RateHz          float64       `mapstructure:"rate_hz"`
	HopSize         int           `mapstructure:"hop_size"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	Profile         string        `mapstructure:"profile"`
}

// StreamConfig contains stream handling settings
type StreamConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// OutputConfig contains output formatting settings
type OutputConfig struct {
	Format    string  `mapstructure:"format"`
	Pretty    bool    `mapstructure:"pretty"`
	ClampDB   float64 `mapstructure:"clamp_db"`
	Precision int     `mapstructure:"precision"`
	File      string  `mapstructure:"file"`
}

// MetricsConfig controls metric emission
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogPath string `mapstructure:"log_path"`
}

var validBackends = []string{"auto", "analytic", "native", "interpreter", "external"}
var validFormats = []string{"json", "yaml", "csv", "table"}

// LoadConfig loads configuration from viper
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(viper.GetViper())
}

// LoadConfigFrom loads configuration from v after filling in defaults
func LoadConfigFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	return config, nil
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if !contains(validBackends, strings.ToLower(config.Extraction.Backend)) {
		return fmt.Errorf("unknown extraction backend %q (valid: %s)",
			config.Extraction.Backend, strings.Join(validBackends, ", "))
	}

	if n := config.Extraction.FFTSize; n < 2 || n&(n-1) != 0 {
		return fmt.Errorf("fft size must be a power of two, got %d", n)
	}

	if config.Extraction.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}

	if config.Extraction.MelFilters < config.Extraction.MFCCCoefficients {
		return fmt.Errorf("mel filters (%d) must be at least the number of coefficients (%d)",
			config.Extraction.MelFilters, config.Extraction.MFCCCoefficients)
	}

	if config.Extraction.MFCCCoefficients != 13 {
		return fmt.Errorf("the feature vector carries exactly 13 mfcc, got %d", config.Extraction.MFCCCoefficients)
	}

	if t := config.Extraction.RolloffThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("rolloff threshold must be in (0, 1]")
	}

	if config.Bridge.Codec != "json" && config.Bridge.Codec != "msgpack" {
		return fmt.Errorf("bridge codec must be json or msgpack")
	}

	if config.Bridge.HandshakeTimeout <= 0 || config.Bridge.ReadTimeout <= 0 {
		return fmt.Errorf("bridge timeouts must be positive")
	}

	if config.Bridge.MaxFrameSize <= 0 || config.Bridge.MaxFrameSize > MaxFrameSize {
		return fmt.Errorf("bridge max frame size must be in (0, %d]", MaxFrameSize)
	}

	if config.Analysis.RateHz < 5 || config.Analysis.RateHz > 30 {
		return fmt.Errorf("analysis rate must be between 5 and 30 Hz")
	}

	if config.Analysis.HopSize <= 0 || config.Analysis.HopSize > config.Extraction.FFTSize {
		return fmt.Errorf("hop size must be in (0, fft size]")
	}

	if !contains(validFormats, config.Output.Format) {
		return fmt.Errorf("unknown output format %q", config.Output.Format)
	}

	if config.Output.ClampDB < 0 {
		return fmt.Errorf("clamp_db cannot be negative")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
