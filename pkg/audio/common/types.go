package common

import (
	"fmt"
	"math"
	"strings"
)

// BackendType identifies a feature extraction implementation
type BackendType string

const (
	BackendAuto        BackendType = "auto"
	BackendAnalytic    BackendType = "analytic"
	BackendNative      BackendType = "native"
	BackendInterpreter BackendType = "interpreter"
	BackendExternal    BackendType = "external"
	BackendNone        BackendType = "none"
)

// AllBackends lists every concrete backend in selection priority order,
// followed by the explicit-only native backend.
var AllBackends = []BackendType{
	BackendExternal,
	BackendInterpreter,
	BackendAnalytic,
	BackendNative,
}

// ParseBackendType accepts the config/CLI spelling of a backend
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "analytic", "builtin", "juce":
		return BackendAnalytic, nil
	case "native", "gonum":
		return BackendNative, nil
	case "interpreter", "lua", "embedded":
		return BackendInterpreter, nil
	case "external", "process", "subprocess":
		return BackendExternal, nil
	}
	return BackendNone, NewAudioError(BackendNone, ErrCodeUnsupportedBackend,
		fmt.Sprintf("unknown backend %q", s), nil)
}

// DisplayName is the human-readable backend label
func (b BackendType) DisplayName() string {
	switch b {
	case BackendAuto:
		return "Auto"
	case BackendAnalytic:
		return "Analytic (built-in)"
	case BackendNative:
		return "Native library (gonum)"
	case BackendInterpreter:
		return "Embedded interpreter (Lua)"
	case BackendExternal:
		return "External process"
	}
	return "None"
}

const (
	FeatureVectorSize = 17
	NumMFCC           = 13
	PredictionSize    = 5
)

// Positions inside a FeatureVector. The same order is used on the peer
// protocol, in scaler files and in network weight files.
const (
	IdxCentroid  = 0
	IdxBandwidth = 1
	IdxRolloff   = 2
	IdxMFCCStart = 3
	IdxRMS       = IdxMFCCStart + NumMFCC
)

// FeatureNames labels each FeatureVector position
var FeatureNames = [FeatureVectorSize]string{
	"spectral_centroid",
	"spectral_bandwidth",
	"spectral_rolloff",
	"mfcc_1", "mfcc_2", "mfcc_3", "mfcc_4", "mfcc_5", "mfcc_6", "mfcc_7",
	"mfcc_8", "mfcc_9", "mfcc_10", "mfcc_11", "mfcc_12", "mfcc_13",
	"rms",
}

// FeatureVector is the fixed-size acoustic summary of one audio block
type FeatureVector [FeatureVectorSize]float64

// NewFeatureVector assembles a vector from its parts. mfcc is truncated or
// zero-filled to NumMFCC entries.
func NewFeatureVector(centroid, bandwidth, rolloff float64, mfcc []float64, rms float64) FeatureVector {
	var fv FeatureVector
	fv[IdxCentroid] = centroid
	fv[IdxBandwidth] = bandwidth
	fv[IdxRolloff] = rolloff
	copy(fv[IdxMFCCStart:IdxMFCCStart+NumMFCC], mfcc)
	fv[IdxRMS] = rms
	return fv.Sanitize()
}

// FeatureVectorFromSlice validates the length of values
func FeatureVectorFromSlice(values []float64) (FeatureVector, error) {
	var fv FeatureVector
	if len(values) != FeatureVectorSize {
		return fv, NewAudioError(BackendNone, ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d features, got %d", FeatureVectorSize, len(values)), nil)
	}
	copy(fv[:], values)
	return fv.Sanitize(), nil
}

// Sanitize replaces NaN and infinite entries with zero
func (fv FeatureVector) Sanitize() FeatureVector {
	for i, v := range fv {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fv[i] = 0
		}
	}
	return fv
}

func (fv FeatureVector) Centroid() float64  { return fv[IdxCentroid] }
func (fv FeatureVector) Bandwidth() float64 { return fv[IdxBandwidth] }
func (fv FeatureVector) Rolloff() float64   { return fv[IdxRolloff] }
func (fv FeatureVector) RMS() float64       { return fv[IdxRMS] }

// MFCC returns a copy of the cepstral coefficients
func (fv FeatureVector) MFCC() []float64 {
	out := make([]float64, NumMFCC)
	copy(out, fv[IdxMFCCStart:IdxMFCCStart+NumMFCC])
	return out
}

// Slice returns a copy of the vector as a slice
func (fv FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureVectorSize)
	copy(out, fv[:])
	return out
}

// IsZero reports whether every entry is zero
func (fv FeatureVector) IsZero() bool {
	return fv == FeatureVector{}
}

// Map keys the vector by feature name
func (fv FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, FeatureVectorSize)
	for i, name := range FeatureNames {
		m[name] = fv[i]
	}
	return m
}

// TargetFrequencies are the EQ band centers the prediction outputs map to
var TargetFrequencies = [PredictionSize]float64{80, 240, 2500, 4000, 10000}

// TargetBandNames label the EQ bands in TargetFrequencies order
var TargetBandNames = [PredictionSize]string{"sub", "low", "mid", "high mid", "high"}

const DefaultGainLimitDB = 20.0

// Prediction holds the dB gain suggestions for the target bands
type Prediction [PredictionSize]float64

// Clamp limits each gain to [lo, hi]
func (p Prediction) Clamp(lo, hi float64) Prediction {
	for i, v := range p {
		p[i] = math.Max(lo, math.Min(hi, v))
	}
	return p
}

// Slice returns a copy of the prediction as a slice
func (p Prediction) Slice() []float64 {
	out := make([]float64, PredictionSize)
	copy(out, p[:])
	return out
}

// AudioFrame is one immutable analysis block of mono samples
type AudioFrame struct {
	Samples    []float32 `json:"-"`
	SampleRate int       `json:"sample_rate"`
}

// Len returns the number of samples in the frame
func (f AudioFrame) Len() int {
	return len(f.Samples)
}
