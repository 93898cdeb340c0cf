package extractors

import (
	"sync"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

// AnalyticExtractor is the self-contained backend and the final fallback
type AnalyticExtractor struct {
	mu       sync.Mutex
	engine   *analyzers.SpectrumEngine
	cepstral *analyzers.CepstralExtractor
	rolloff  float64
	logger   logging.Logger
}

// NewAnalyticExtractor creates the built-in extractor
func NewAnalyticExtractor(cfg *Config) (*AnalyticExtractor, error) {
	cfg = cfg.withDefaults()

	engine, err := analyzers.NewSpectrumEngine(cfg.FFTSize)
	if err != nil {
		return nil, common.NewAudioError(common.BackendAnalytic, common.ErrCodeInvalidInput,
			"invalid fft size", err)
	}

	return &AnalyticExtractor{
		engine:   engine,
		cepstral: analyzers.NewCepstralExtractor(cfg.NumMelFilters, common.NumMFCC),
		rolloff:  cfg.RolloffThreshold,
		logger:   cfg.logger(common.BackendAnalytic),
	}, nil
}

func (a *AnalyticExtractor) Backend() common.BackendType { return common.BackendAnalytic }

func (a *AnalyticExtractor) Extract(signal []float32, sampleRate int) common.FeatureVector {
	if sampleRate <= 0 {
		a.logger.Warn("Invalid sample rate, returning zero features", logging.Fields{
			"sample_rate": sampleRate,
		})
		return common.FeatureVector{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return ComputeFeatures(a.engine, a.cepstral, signal, sampleRate, a.rolloff)
}

func (a *AnalyticExtractor) spectrum(signal []float32) analyzers.PowerSpectrum {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.ComputePowerSpectrum(signal)
}

func (a *AnalyticExtractor) MFCC(signal []float32, sampleRate int) []float64 {
	ps := a.spectrum(signal)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cepstral.MFCC(ps, sampleRate)
}

func (a *AnalyticExtractor) SpectralCentroid(signal []float32, sampleRate int) float64 {
	return analyzers.SpectralCentroid(a.spectrum(signal), sampleRate)
}

func (a *AnalyticExtractor) SpectralBandwidth(signal []float32, sampleRate int) float64 {
	return analyzers.SpectralBandwidth(a.spectrum(signal), sampleRate)
}

func (a *AnalyticExtractor) SpectralRolloff(signal []float32, sampleRate int) float64 {
	return analyzers.SpectralRolloff(a.spectrum(signal), sampleRate, a.rolloff)
}

func (a *AnalyticExtractor) RMS(signal []float32) float64 {
	return analyzers.RMS(signal)
}

func (a *AnalyticExtractor) Close() error { return nil }
