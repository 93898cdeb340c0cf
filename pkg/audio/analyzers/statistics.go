package analyzers

import "math"

const DefaultRolloffThreshold = 0.85

// SpectralCentroid is the power-weighted mean frequency, skipping DC
func SpectralCentroid(spectrum PowerSpectrum, sampleRate int) float64 {
	var weighted, total float64
	for i := 1; i < len(spectrum); i++ {
		weighted += spectrum.BinFrequency(i, sampleRate) * spectrum[i]
		total += spectrum[i]
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// SpectralBandwidth is the power-weighted spread around the centroid
func SpectralBandwidth(spectrum PowerSpectrum, sampleRate int) float64 {
	centroid := SpectralCentroid(spectrum, sampleRate)

	var weighted, total float64
	for i := 1; i < len(spectrum); i++ {
		d := spectrum.BinFrequency(i, sampleRate) - centroid
		weighted += spectrum[i] * d * d
		total += spectrum[i]
	}
	if total == 0 {
		return 0
	}
	return math.Sqrt(weighted / total)
}

// SpectralRolloff returns the lowest frequency below which threshold of the
// non-DC energy lies, or Nyquist if the threshold is never reached.
func SpectralRolloff(spectrum PowerSpectrum, sampleRate int, threshold float64) float64 {
	var total float64
	for i := 1; i < len(spectrum); i++ {
		total += spectrum[i]
	}

	target := threshold * total
	var cumulative float64
	for i := 1; i < len(spectrum); i++ {
		cumulative += spectrum[i]
		if cumulative >= target {
			return spectrum.BinFrequency(i, sampleRate)
		}
	}
	return float64(sampleRate) / 2.0
}

// RMS is the root mean square of signal, 0 for empty input
func RMS(signal []float32) float64 {
	if len(signal) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signal {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(signal)))
}
