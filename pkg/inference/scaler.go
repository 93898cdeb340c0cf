package inference

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

// StandardScaler normalizes features with per-feature mean and deviation
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// valid reports whether the parameters can be applied to n features
func (s *StandardScaler) valid(n int) bool {
	return s != nil && len(s.Mean) > 0 && len(s.Mean) == len(s.Std) && len(s.Mean) == n
}

// Transform returns (x-mean)/std elementwise. Absent or mismatched
// parameters leave the input unchanged.
func (s *StandardScaler) Transform(features []float64) []float64 {
	out := make([]float64, len(features))
	copy(out, features)
	if !s.valid(len(features)) {
		return out
	}
	for i := range out {
		out[i] = (out[i] - s.Mean[i]) / s.Std[i]
	}
	return out
}

// InverseTransform returns x*std+mean elementwise
func (s *StandardScaler) InverseTransform(scaled []float64) []float64 {
	out := make([]float64, len(scaled))
	copy(out, scaled)
	if !s.valid(len(scaled)) {
		return out
	}
	for i := range out {
		out[i] = out[i]*s.Std[i] + s.Mean[i]
	}
	return out
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) != common.FeatureVectorSize || len(s.Std) != common.FeatureVectorSize {
		return common.NewAudioError(common.BackendNone, common.ErrCodeDimensionMismatch,
			fmt.Sprintf("scaler needs %d means and deviations, got %d and %d",
				common.FeatureVectorSize, len(s.Mean), len(s.Std)), nil)
	}
	for i, sd := range s.Std {
		if sd == 0 {
			return common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
				fmt.Sprintf("scaler std[%d] is zero", i), nil)
		}
	}
	return nil
}

// LoadScaler reads scaler parameters from a JSON file
func LoadScaler(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError("scaler", path, err)
	}

	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			fmt.Sprintf("failed to parse scaler file %s", path), err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func fileError(kind, path string, err error) error {
	code := common.ErrCodeIO
	if os.IsNotExist(err) {
		code = common.ErrCodeNotFound
	}
	return common.NewAudioError(common.BackendNone, code,
		fmt.Sprintf("failed to read %s file %s", kind, path), err)
}
