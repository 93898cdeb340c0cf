package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

const (
	HiddenSize = 64

	DefaultWeightsFile = "model_weights.json"
	DefaultScalerFile  = "scaler_params.json"
)

var layerKeys = []string{"layer_0", "layer_1", "layer_2"}

// layerRecord is the on-disk form of one linear layer
type layerRecord struct {
	Weight [][]float64 `json:"weight"`
	Bias   []float64   `json:"bias"`
}

// expected (outputs, inputs) per layer
var layerShapes = [][2]int{
	{HiddenSize, common.FeatureVectorSize},
	{HiddenSize, HiddenSize},
	{common.PredictionSize, HiddenSize},
}

// Network maps a feature vector to EQ gain suggestions:
// scale -> 17x64 -> ReLU -> 64x64 -> ReLU -> 64x5.
type Network struct {
	mu     sync.RWMutex
	layers []*LinearLayer
	scaler *StandardScaler
	loaded bool
	logger logging.Logger
}

// NewNetwork creates an unloaded network
func NewNetwork(logger logging.Logger) *Network {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Network{
		logger: logger.WithFields(logging.Fields{"component": "inference_network"}),
	}
}

// IsLoaded reports whether weights and scaler were loaded successfully
func (n *Network) IsLoaded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded
}

// LoadModel parses both files and swaps them in together. On any error the
// network is left unloaded.
func (n *Network) LoadModel(weightsPath, scalerPath string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.layers = nil
	n.scaler = nil
	n.loaded = false

	layers, err := loadLayers(weightsPath)
	if err != nil {
		n.logger.Error(err, "Failed to load model weights")
		return err
	}

	scaler, err := LoadScaler(scalerPath)
	if err != nil {
		n.logger.Error(err, "Failed to load scaler parameters")
		return err
	}

	n.layers = layers
	n.scaler = scaler
	n.loaded = true

	n.logger.Info("Model loaded", logging.Fields{
		"weights": weightsPath,
		"scaler":  scalerPath,
		"layers":  len(layers),
	})
	return nil
}

func loadLayers(path string) ([]*LinearLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError("weights", path, err)
	}

	var records map[string]layerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			fmt.Sprintf("failed to parse weights file %s", path), err)
	}

	layers := make([]*LinearLayer, 0, len(layerKeys))
	for i, key := range layerKeys {
		rec, ok := records[key]
		if !ok {
			return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
				fmt.Sprintf("weights file %s has no %s", path, key), nil)
		}

		layer, err := NewLinearLayer(rec.Weight, rec.Bias)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		rows, cols := layer.Dims()
		if rows != layerShapes[i][0] || cols != layerShapes[i][1] {
			return nil, common.NewAudioError(common.BackendNone, common.ErrCodeDimensionMismatch,
				fmt.Sprintf("%s is %dx%d, expected %dx%d", key, rows, cols,
					layerShapes[i][0], layerShapes[i][1]), nil)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// Predict returns zeros when the network is unloaded or features does not
// hold exactly 17 values.
func (n *Network) Predict(features []float64) common.Prediction {
	var out common.Prediction

	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.loaded {
		return out
	}
	if len(features) != common.FeatureVectorSize {
		n.logger.Warn("Feature dimension mismatch, returning zero prediction", logging.Fields{
			"expected": common.FeatureVectorSize,
			"got":      len(features),
		})
		return out
	}

	x := n.scaler.Transform(features)
	for i, layer := range n.layers {
		x = layer.Forward(x)
		if x == nil {
			return common.Prediction{}
		}
		if i < len(n.layers)-1 {
			x = relu(x)
		}
	}

	copy(out[:], x)
	return out
}

// PredictVector is Predict for a FeatureVector
func (n *Network) PredictVector(fv common.FeatureVector) common.Prediction {
	return n.Predict(fv[:])
}

// FindModelFiles returns the first directory among searchPaths holding both
// model files.
func FindModelFiles(searchPaths []string) (weightsPath, scalerPath string, err error) {
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		w := filepath.Join(dir, DefaultWeightsFile)
		s := filepath.Join(dir, DefaultScalerFile)
		if isRegularFile(w) && isRegularFile(s) {
			return w, s, nil
		}
	}
	return "", "", common.NewAudioError(common.BackendNone, common.ErrCodeNotFound,
		fmt.Sprintf("no %s/%s pair in %v", DefaultWeightsFile, DefaultScalerFile, searchPaths), nil)
}

// DefaultModelSearchPaths lists the conventional model directories
func DefaultModelSearchPaths() []string {
	paths := []string{"models"}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, "models"),
			filepath.Join(dir, "..", "Resources", "models"),
		)
	}
	return paths
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
