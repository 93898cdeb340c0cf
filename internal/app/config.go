package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vaclisinc/VTR-plugin-sub000/configs"
	"gopkg.in/yaml.v3"
)

// Profile overrides extraction and analysis settings for one run. Zero
// fields leave the base configuration alone.
type Profile struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	ContentType string `json:"content_type" yaml:"content_type"`

	Backend          string   `json:"backend" yaml:"backend"`
	Fallback         *bool    `json:"fallback" yaml:"fallback"`
	FFTSize          int      `json:"fft_size" yaml:"fft_size"`
	MelFilters       int      `json:"mel_filters" yaml:"mel_filters"`
	RolloffThreshold float64  `json:"rolloff_threshold" yaml:"rolloff_threshold"`
	RateHz           float64  `json:"rate_hz" yaml:"rate_hz"`
	HopSize          int      `json:"hop_size" yaml:"hop_size"`
	SegmentDuration  Duration `json:"segment_duration" yaml:"segment_duration"`
	ClampDB          *float64 `json:"clamp_db" yaml:"clamp_db"`
}

// Duration accepts "1.5s" style strings or nanosecond integers
type Duration time.Duration

func (d *Duration) set(v any) error {
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(t))
	case int:
		*d = Duration(time.Duration(t))
	case nil:
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

// LoadProfile loads a profile from a YAML or JSON file
func LoadProfile(filePath string) (*Profile, error) {
	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("profile file does not exist: %s", filePath)
	}

	// Determine file format
	switch filepath.Ext(filePath) {
	case ".yaml", ".yml":
		return loadProfileFromYAML(filePath)
	case ".json":
		return loadProfileFromJSON(filePath)
	default:
		// Try YAML first, then JSON
		if p, err := loadProfileFromYAML(filePath); err == nil {
			return p, nil
		}
		return loadProfileFromJSON(filePath)
	}
}

func readProfileFile(filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return data, nil
}

// loadProfileFromYAML loads a profile from a YAML file
func loadProfileFromYAML(filePath string) (*Profile, error) {
	data, err := readProfileFile(filePath)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML profile: %w", err)
	}
	return &profile, nil
}

// loadProfileFromJSON loads a profile from a JSON file
func loadProfileFromJSON(filePath string) (*Profile, error) {
	data, err := readProfileFile(filePath)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse JSON profile: %w", err)
	}
	return &profile, nil
}

// ApplyProfile merges profile overrides into cfg
func ApplyProfile(cfg *configs.Config, profile *Profile) {
	if profile == nil {
		return
	}

	if profile.Backend != "" {
		cfg.Extraction.Backend = profile.Backend
	}
	if profile.Fallback != nil {
		cfg.Extraction.Fallback = *profile.Fallback
	}
	if profile.FFTSize > 0 {
		cfg.Extraction.FFTSize = profile.FFTSize
	}
	if profile.MelFilters > 0 {
		cfg.Extraction.MelFilters = profile.MelFilters
	}
	if profile.RolloffThreshold > 0 {
		cfg.Extraction.RolloffThreshold = profile.RolloffThreshold
	}
	if profile.RateHz > 0 {
		cfg.Analysis.RateHz = profile.RateHz
	}
	if profile.HopSize > 0 {
		cfg.Analysis.HopSize = profile.HopSize
	}
	if profile.SegmentDuration > 0 {
		cfg.Analysis.SegmentDuration = time.Duration(profile.SegmentDuration)
	}
	if profile.ClampDB != nil {
		cfg.Output.ClampDB = *profile.ClampDB
	}
}

// mergeContextConfig applies CLI flags on top of the loaded configuration
func mergeContextConfig(cfg *configs.Config, ctx *Context) {
	if ctx.Backend != "" {
		cfg.Extraction.Backend = ctx.Backend
	}
	if ctx.NoFallback {
		cfg.Extraction.Fallback = false
	}
	if ctx.OutputFormat != "" {
		cfg.Output.Format = ctx.OutputFormat
	}
	if ctx.OutputFile != "" {
		cfg.Output.File = ctx.OutputFile
	}
	if ctx.RateHz > 0 {
		cfg.Analysis.RateHz = ctx.RateHz
	}
	if ctx.SegmentDuration > 0 {
		cfg.Analysis.SegmentDuration = ctx.SegmentDuration
	}
	if ctx.WeightsFile != "" {
		cfg.Model.Weights = ctx.WeightsFile
	}
	if ctx.ScalerFile != "" {
		cfg.Model.Scaler = ctx.ScalerFile
	}
	if ctx.NoModel {
		cfg.Model.Disabled = true
	}
	if ctx.Executable != "" {
		cfg.Bridge.Executable = ctx.Executable
	}
	if ctx.Codec != "" {
		cfg.Bridge.Codec = ctx.Codec
	}
	if ctx.Verbose {
		cfg.Verbose = true
	}
}
