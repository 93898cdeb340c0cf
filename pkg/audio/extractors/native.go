//go:build !novtrnative

package extractors

import (
	"math"
	"sort"
	"sync"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const nativeAvailable = true

// NativeExtractor delegates the DSP to gonum. Build with -tags novtrnative
// to leave it out.
type NativeExtractor struct {
	mu       sync.Mutex
	fftSize  int
	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeffs   []complex128
	freqs    map[int][]float64
	cepstral *analyzers.CepstralExtractor
	rolloff  float64
	logger   logging.Logger
}

func newNativeExtractor(cfg *Config) (Extractor, error) {
	return NewNativeExtractor(cfg)
}

// NewNativeExtractor creates the gonum-backed extractor
func NewNativeExtractor(cfg *Config) (*NativeExtractor, error) {
	cfg = cfg.withDefaults()
	if !analyzers.IsPowerOfTwo(cfg.FFTSize) || cfg.FFTSize < 2 {
		return nil, common.NewAudioError(common.BackendNative, common.ErrCodeInvalidInput,
			"fft size must be a power of two", nil)
	}

	ones := make([]float64, cfg.FFTSize)
	for i := range ones {
		ones[i] = 1
	}

	return &NativeExtractor{
		fftSize:  cfg.FFTSize,
		fft:      fourier.NewFFT(cfg.FFTSize),
		window:   window.Hann(ones),
		frame:    make([]float64, cfg.FFTSize),
		coeffs:   make([]complex128, cfg.FFTSize/2+1),
		freqs:    make(map[int][]float64),
		cepstral: analyzers.NewCepstralExtractor(cfg.NumMelFilters, common.NumMFCC),
		rolloff:  cfg.RolloffThreshold,
		logger:   cfg.logger(common.BackendNative),
	}, nil
}

func (n *NativeExtractor) Backend() common.BackendType { return common.BackendNative }

// spectrumLocked windows the first fftSize samples and transforms them
func (n *NativeExtractor) spectrumLocked(signal []float32) analyzers.PowerSpectrum {
	count := min(len(signal), n.fftSize)
	for i := 0; i < count; i++ {
		n.frame[i] = float64(signal[i])
	}
	clear(n.frame[count:])
	floats.Mul(n.frame, n.window)

	n.coeffs = n.fft.Coefficients(n.coeffs, n.frame)

	ps := make(analyzers.PowerSpectrum, len(n.coeffs))
	for i, c := range n.coeffs {
		ps[i] = real(c)*real(c) + imag(c)*imag(c)
	}
	return ps
}

// binFrequencies returns the frequencies of bins 1..N/2 for sampleRate
func (n *NativeExtractor) binFrequencies(ps analyzers.PowerSpectrum, sampleRate int) []float64 {
	if f, ok := n.freqs[sampleRate]; ok {
		return f
	}
	f := make([]float64, len(ps)-1)
	for i := range f {
		f[i] = ps.BinFrequency(i+1, sampleRate)
	}
	n.freqs[sampleRate] = f
	return f
}

type nativeStats struct {
	centroid, bandwidth, rolloff float64
}

func (n *NativeExtractor) statsLocked(ps analyzers.PowerSpectrum, sampleRate int) nativeStats {
	if len(ps) < 2 || sampleRate <= 0 {
		return nativeStats{rolloff: float64(max(sampleRate, 0)) / 2}
	}

	weights := ps[1:]
	freqs := n.binFrequencies(ps, sampleRate)

	var s nativeStats
	total := floats.Sum(weights)
	if total > 0 {
		mean, variance := stat.PopMeanVariance(freqs, weights)
		s.centroid = mean
		s.bandwidth = math.Sqrt(math.Max(variance, 0))
	}

	cumulative := floats.CumSum(make([]float64, len(weights)), weights)
	idx := sort.SearchFloat64s(cumulative, n.rolloff*total)
	if idx < len(freqs) {
		s.rolloff = freqs[idx]
	} else {
		s.rolloff = float64(sampleRate) / 2
	}
	return s
}

func (n *NativeExtractor) Extract(signal []float32, sampleRate int) common.FeatureVector {
	if sampleRate <= 0 {
		n.logger.Warn("Invalid sample rate, returning zero features", logging.Fields{
			"sample_rate": sampleRate,
		})
		return common.FeatureVector{}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ps := n.spectrumLocked(signal)
	s := n.statsLocked(ps, sampleRate)
	return common.NewFeatureVector(s.centroid, s.bandwidth, s.rolloff,
		n.cepstral.MFCC(ps, sampleRate), nativeRMS(signal))
}

func (n *NativeExtractor) MFCC(signal []float32, sampleRate int) []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cepstral.MFCC(n.spectrumLocked(signal), sampleRate)
}

func (n *NativeExtractor) SpectralCentroid(signal []float32, sampleRate int) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statsLocked(n.spectrumLocked(signal), sampleRate).centroid
}

func (n *NativeExtractor) SpectralBandwidth(signal []float32, sampleRate int) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statsLocked(n.spectrumLocked(signal), sampleRate).bandwidth
}

func (n *NativeExtractor) SpectralRolloff(signal []float32, sampleRate int) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statsLocked(n.spectrumLocked(signal), sampleRate).rolloff
}

func (n *NativeExtractor) RMS(signal []float32) float64 {
	return nativeRMS(signal)
}

func nativeRMS(signal []float32) float64 {
	if len(signal) == 0 {
		return 0
	}
	x := make([]float64, len(signal))
	for i, s := range signal {
		x[i] = float64(s)
	}
	return floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
}

func (n *NativeExtractor) Close() error { return nil }
