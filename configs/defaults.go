package configs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// MaxFrameSize mirrors the bridge's hard ceiling on a single frame
const MaxFrameSize = 10 << 20

// setDefaults sets default configuration values for all components
func setDefaults(v *viper.Viper) {
	// Extraction defaults
	if !v.IsSet("extraction.backend") {
		v.Set("extraction.backend", "auto")
	}
	if !v.IsSet("extraction.fallback") {
		v.Set("extraction.fallback", true)
	}
	if !v.IsSet("extraction.fft_size") {
		v.Set("extraction.fft_size", 2048)
	}
	if !v.IsSet("extraction.sample_rate") {
		v.Set("extraction.sample_rate", 44100)
	}
	if !v.IsSet("extraction.mel_filters") {
		v.Set("extraction.mel_filters", 26)
	}
	if !v.IsSet("extraction.mfcc_coefficients") {
		v.Set("extraction.mfcc_coefficients", 13)
	}
	if !v.IsSet("extraction.rolloff_threshold") {
		v.Set("extraction.rolloff_threshold", 0.85)
	}

	setBridgeDefaults(v)

	// Model defaults
	if !v.IsSet("model.search_paths") {
		v.Set("model.search_paths", []string{})
	}

	// Analysis defaults
	if !v.IsSet("analysis.rate_hz") {
		v.Set("analysis.rate_hz", 10.0)
	}
	if !v.IsSet("analysis.hop_size") {
		v.Set("analysis.hop_size", 512)
	}
	if !v.IsSet("analysis.segment_duration") {
		v.Set("analysis.segment_duration", 10*time.Second)
	}

	// Stream defaults
	if !v.IsSet("stream.timeout") {
		v.Set("stream.timeout", 30*time.Second)
	}

	// Output defaults
	if !v.IsSet("output.format") {
		v.Set("output.format", "table")
	}
	if !v.IsSet("output.pretty") {
		v.Set("output.pretty", true)
	}
	if !v.IsSet("output.clamp_db") {
		v.Set("output.clamp_db", 20.0)
	}
	if !v.IsSet("output.precision") {
		v.Set("output.precision", 3)
	}

	// Metrics defaults
	if !v.IsSet("metrics.enabled") {
		v.Set("metrics.enabled", false)
	}
	if !v.IsSet("metrics.log_path") {
		v.Set("metrics.log_path", filepath.Join(os.TempDir(), "vtr-metrics.log"))
	}

	// Application defaults
	if !v.IsSet("verbose") {
		v.Set("verbose", false)
	}
	if !v.IsSet("log_level") {
		v.Set("log_level", "info")
	}
	if !v.IsSet("output_format") {
		v.Set("output_format", "table")
	}
}

// setBridgeDefaults sets external extractor defaults
func setBridgeDefaults(v *viper.Viper) {
	if !v.IsSet("bridge.args") {
		v.Set("bridge.args", []string{"--daemon"})
	}
	if !v.IsSet("bridge.codec") {
		v.Set("bridge.codec", "json")
	}
	if !v.IsSet("bridge.handshake_timeout") {
		v.Set("bridge.handshake_timeout", 10*time.Second)
	}
	if !v.IsSet("bridge.read_timeout") {
		v.Set("bridge.read_timeout", 5*time.Second)
	}
	if !v.IsSet("bridge.shutdown_timeout") {
		v.Set("bridge.shutdown_timeout", 3*time.Second)
	}
	if !v.IsSet("bridge.max_frame_size") {
		v.Set("bridge.max_frame_size", MaxFrameSize)
	}
}

// GetDefaultConfig returns a Config struct with all default values set
func GetDefaultConfig() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		Verbose:      false,
		LogLevel:     "info",
		OutputFormat: "table",
		ConfigDir:    filepath.Join(home, ".config", "vtr"),

		Extraction: GetDefaultExtractionConfig(),
		Bridge:     GetDefaultBridgeConfig(),
		Model:      ModelConfig{SearchPaths: []string{}},
		Analysis:   GetDefaultAnalysisConfig(),
		Stream:     StreamConfig{Timeout: 30 * time.Second},
		Output:     GetDefaultOutputConfigForFormat("table"),
		Metrics: MetricsConfig{
			LogPath: filepath.Join(os.TempDir(), "vtr-metrics.log"),
		},
	}
}

// GetDefaultExtractionConfig returns the settings the shipped model expects
func GetDefaultExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		Backend:          "auto",
		Fallback:         true,
		FFTSize:          2048,
		SampleRate:       44100,
		MelFilters:       26,
		MFCCCoefficients: 13,
		RolloffThreshold: 0.85,
	}
}

// GetDefaultBridgeConfig returns default external extractor settings
func GetDefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Args:             []string{"--daemon"},
		Codec:            "json",
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      5 * time.Second,
		ShutdownTimeout:  3 * time.Second,
		MaxFrameSize:     MaxFrameSize,
	}
}

// GetDefaultAnalysisConfig returns default cadence settings
func GetDefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		RateHz:          10,
		HopSize:         512,
		SegmentDuration: 10 * time.Second,
	}
}

// GetDefaultOutputConfigForFormat returns output config optimized for specific format
func GetDefaultOutputConfigForFormat(format string) OutputConfig {
	base := OutputConfig{
		Format:    format,
		Pretty:    true,
		ClampDB:   20,
		Precision: 3,
	}

	switch format {
	case "json":
		base.Precision = 6
	case "csv":
		base.Pretty = false
	case "table":
		base.Precision = 2
	default:
		// Keep defaults
	}

	return base
}
