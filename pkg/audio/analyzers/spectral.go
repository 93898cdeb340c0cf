package analyzers

import (
	"fmt"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const DefaultFFTSize = 2048

// PowerSpectrum holds fftSize/2+1 non-negative bin energies
type PowerSpectrum []float64

// FFTSize returns the transform size the spectrum was computed with
func (ps PowerSpectrum) FFTSize() int {
	if len(ps) < 2 {
		return 0
	}
	return 2 * (len(ps) - 1)
}

// BinFrequency returns the center frequency of bin i in Hz
func (ps PowerSpectrum) BinFrequency(i, sampleRate int) float64 {
	n := ps.FFTSize()
	if n == 0 {
		return 0
	}
	return float64(i) * float64(sampleRate) / float64(n)
}

// SpectrumEngine turns analysis frames into power spectra. Its working
// buffers are reused between calls, so an engine must not be shared
// between goroutines.
type SpectrumEngine struct {
	fftSize int
	window  []float64
	frame   []float64
}

// IsPowerOfTwo reports whether n is a positive power of two
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NewSpectrumEngine creates an engine with a fixed FFT size
func NewSpectrumEngine(fftSize int) (*SpectrumEngine, error) {
	if fftSize < 2 || !IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of two >= 2, got %d", fftSize)
	}

	return &SpectrumEngine{
		fftSize: fftSize,
		window:  window.Hann(fftSize),
		frame:   make([]float64, fftSize),
	}, nil
}

// FFTSize returns the engine's transform size
func (se *SpectrumEngine) FFTSize() int {
	return se.fftSize
}

// ComputePowerSpectrum zero-pads or truncates frame to the FFT size, applies
// the Hann window and returns the squared magnitudes of the positive bins.
func (se *SpectrumEngine) ComputePowerSpectrum(frame []float32) PowerSpectrum {
	n := min(len(frame), se.fftSize)
	for i := 0; i < n; i++ {
		se.frame[i] = float64(frame[i]) * se.window[i]
	}
	clear(se.frame[n:])

	return se.powerOf(se.frame)
}

// ComputePowerSpectrum64 is ComputePowerSpectrum for float64 input
func (se *SpectrumEngine) ComputePowerSpectrum64(frame []float64) PowerSpectrum {
	n := min(len(frame), se.fftSize)
	for i := 0; i < n; i++ {
		se.frame[i] = frame[i] * se.window[i]
	}
	clear(se.frame[n:])

	return se.powerOf(se.frame)
}

func (se *SpectrumEngine) powerOf(windowed []float64) PowerSpectrum {
	coeffs := fft.FFTReal(windowed)

	bins := se.fftSize/2 + 1
	power := make(PowerSpectrum, bins)
	for i := 0; i < bins; i++ {
		re, im := real(coeffs[i]), imag(coeffs[i])
		power[i] = re*re + im*im
	}
	return power
}
