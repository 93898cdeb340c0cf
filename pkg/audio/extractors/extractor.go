package extractors

import (
	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/bridge"
)

// Extractor computes the 17-element feature vector. Extract never fails:
// problems are logged and a zero vector is returned. The individual feature
// methods exist for diagnostics and tests.
type Extractor interface {
	Extract(signal []float32, sampleRate int) common.FeatureVector
	MFCC(signal []float32, sampleRate int) []float64
	SpectralCentroid(signal []float32, sampleRate int) float64
	SpectralBandwidth(signal []float32, sampleRate int) float64
	SpectralRolloff(signal []float32, sampleRate int) float64
	RMS(signal []float32) float64
	Backend() common.BackendType
	Close() error
}

// Config holds the settings shared by every backend
type Config struct {
	FFTSize          int
	HopSize          int
	NumMelFilters    int
	RolloffThreshold float64
	// Fallback lets the factory substitute the next backend when the
	// requested one cannot be built.
	Fallback bool

	Bridge        *bridge.Config
	BridgeOptions []bridge.Option

	Logger logging.Logger
}

// DefaultConfig returns the settings the trained model expects
func DefaultConfig() *Config {
	return &Config{
		FFTSize:          analyzers.DefaultFFTSize,
		HopSize:          analyzers.DefaultFFTSize / 4,
		NumMelFilters:    analyzers.DefaultNumMelFilters,
		RolloffThreshold: analyzers.DefaultRolloffThreshold,
		Fallback:         true,
		Bridge:           bridge.DefaultConfig(),
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.FFTSize <= 0 {
		out.FFTSize = d.FFTSize
	}
	if out.HopSize <= 0 {
		out.HopSize = out.FFTSize / 4
	}
	if out.NumMelFilters <= 0 {
		out.NumMelFilters = d.NumMelFilters
	}
	if out.RolloffThreshold <= 0 || out.RolloffThreshold > 1 {
		out.RolloffThreshold = d.RolloffThreshold
	}
	if out.Bridge == nil {
		out.Bridge = d.Bridge
	}
	return &out
}

func (c *Config) logger(backend common.BackendType) logging.Logger {
	base := c.Logger
	if base == nil {
		base = logging.NewDefaultLogger()
	}
	return base.WithFields(logging.Fields{
		"component": "feature_extractor",
		"backend":   string(backend),
	})
}

// ComputeFeatures runs the analytic pipeline: the spectrum comes from the
// first FFT-size samples, RMS from the whole signal.
func ComputeFeatures(se *analyzers.SpectrumEngine, ce *analyzers.CepstralExtractor,
	signal []float32, sampleRate int, rolloffThreshold float64) common.FeatureVector {
	if sampleRate <= 0 {
		return common.FeatureVector{}
	}

	ps := se.ComputePowerSpectrum(signal)
	return common.NewFeatureVector(
		analyzers.SpectralCentroid(ps, sampleRate),
		analyzers.SpectralBandwidth(ps, sampleRate),
		analyzers.SpectralRolloff(ps, sampleRate, rolloffThreshold),
		ce.MFCC(ps, sampleRate),
		analyzers.RMS(signal),
	)
}

// sliceExtractor derives the individual feature calls from Extract, the way
// backends without separate entry points answer them.
type sliceExtractor struct {
	extract func(signal []float32, sampleRate int) common.FeatureVector
}

func (s sliceExtractor) MFCC(signal []float32, sampleRate int) []float64 {
	return s.extract(signal, sampleRate).MFCC()
}

func (s sliceExtractor) SpectralCentroid(signal []float32, sampleRate int) float64 {
	return s.extract(signal, sampleRate).Centroid()
}

func (s sliceExtractor) SpectralBandwidth(signal []float32, sampleRate int) float64 {
	return s.extract(signal, sampleRate).Bandwidth()
}

func (s sliceExtractor) SpectralRolloff(signal []float32, sampleRate int) float64 {
	return s.extract(signal, sampleRate).Rolloff()
}

// RMS needs a sample rate only to satisfy the request format.
func (s sliceExtractor) RMS(signal []float32) float64 {
	return s.extract(signal, bridge.DefaultPeerSampleRate).RMS()
}
