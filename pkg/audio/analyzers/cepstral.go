package analyzers

import "math"

const (
	DefaultNumMelFilters   = 26
	DefaultNumCoefficients = 13

	// MaxMelFrequency caps the filterbank above Nyquist of 44.1 kHz material.
	MaxMelFrequency = 22050.0

	// LogEnergyFloor keeps log() finite on silent bands.
	LogEnergyFloor = 1e-10
)

// HzToMel converts a frequency to the mel scale
func HzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// MelToHz converts a mel value back to Hz
func MelToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

type melFilter struct {
	left, center, right int
}

// CepstralExtractor computes mel energies and MFCCs. Filter edges are cached
// per (spectrum length, sample rate).
type CepstralExtractor struct {
	numFilters int
	numCoeffs  int

	cachedLen  int
	cachedRate int
	filters    []melFilter
}

// NewCepstralExtractor creates an extractor; non-positive arguments select
// the defaults.
func NewCepstralExtractor(numFilters, numCoeffs int) *CepstralExtractor {
	if numFilters <= 0 {
		numFilters = DefaultNumMelFilters
	}
	if numCoeffs <= 0 {
		numCoeffs = DefaultNumCoefficients
	}
	return &CepstralExtractor{numFilters: numFilters, numCoeffs: numCoeffs}
}

// NumCoefficients returns the MFCC output length
func (ce *CepstralExtractor) NumCoefficients() int {
	return ce.numCoeffs
}

// MFCC runs the filterbank and DCT over one power spectrum
func (ce *CepstralExtractor) MFCC(spectrum PowerSpectrum, sampleRate int) []float64 {
	return MFCC(ce.MelEnergies(spectrum, sampleRate), ce.numCoeffs)
}

// MelEnergies applies the cached filterbank to spectrum
func (ce *CepstralExtractor) MelEnergies(spectrum PowerSpectrum, sampleRate int) []float64 {
	if ce.cachedLen != len(spectrum) || ce.cachedRate != sampleRate || ce.filters == nil {
		ce.filters = melFilters(len(spectrum), sampleRate, ce.numFilters)
		ce.cachedLen = len(spectrum)
		ce.cachedRate = sampleRate
	}
	return applyFilters(spectrum, ce.filters)
}

// MelFilterbank computes numFilters triangular band energies of spectrum.
func MelFilterbank(spectrum PowerSpectrum, sampleRate, numFilters int) []float64 {
	if numFilters <= 0 {
		numFilters = DefaultNumMelFilters
	}
	return applyFilters(spectrum, melFilters(len(spectrum), sampleRate, numFilters))
}

func melFilters(spectrumLen, sampleRate, numFilters int) []melFilter {
	filters := make([]melFilter, numFilters)
	if spectrumLen < 2 || sampleRate <= 0 {
		return filters
	}

	fftSize := 2 * (spectrumLen - 1)
	maxHz := math.Min(float64(sampleRate)/2.0, MaxMelFrequency)
	melMax := HzToMel(maxHz)

	// numFilters+2 evenly spaced mel points give each filter its left, center
	// and right edges.
	bins := make([]int, numFilters+2)
	for i := range bins {
		mel := melMax * float64(i) / float64(numFilters+1)
		bin := int(MelToHz(mel) * float64(fftSize) / float64(sampleRate))
		bins[i] = max(0, min(spectrumLen-1, bin))
	}

	for m := 0; m < numFilters; m++ {
		filters[m] = melFilter{left: bins[m], center: bins[m+1], right: bins[m+2]}
	}
	return filters
}

func applyFilters(spectrum PowerSpectrum, filters []melFilter) []float64 {
	energies := make([]float64, len(filters))
	if len(spectrum) == 0 {
		return energies
	}

	for m, f := range filters {
		var sum float64
		for i := f.left; i <= f.right && i < len(spectrum); i++ {
			var weight float64
			if i <= f.center && f.center > f.left {
				weight = float64(i-f.left) / float64(f.center-f.left)
			} else if i > f.center && f.right > f.center {
				weight = float64(f.right-i) / float64(f.right-f.center)
			}
			sum += spectrum[i] * weight
		}
		energies[m] = sum
	}
	return energies
}

// MFCC applies log compression and an orthonormal DCT-II to mel energies.
// The result always has numCoeffs entries.
func MFCC(melEnergies []float64, numCoeffs int) []float64 {
	if numCoeffs < 0 {
		numCoeffs = 0
	}
	coeffs := make([]float64, numCoeffs)

	n := len(melEnergies)
	if n == 0 {
		return coeffs
	}

	logEnergy := make([]float64, n)
	for i, e := range melEnergies {
		if math.IsNaN(e) {
			e = 0
		}
		logEnergy[i] = math.Log(math.Max(e, LogEnergyFloor))
	}

	n64 := float64(n)
	for k := 0; k < numCoeffs; k++ {
		var sum float64
		for i, le := range logEnergy {
			sum += le * math.Cos(math.Pi*float64(k)*(float64(i)+0.5)/n64)
		}
		norm := math.Sqrt(2.0 / n64)
		if k == 0 {
			norm = math.Sqrt(1.0 / n64)
		}
		coeffs[k] = norm * sum
	}
	return coeffs
}
