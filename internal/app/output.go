package app

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/output"
	"github.com/vaclisinc/VTR-plugin-sub000/internal/analysis"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BandGain is one EQ suggestion
type BandGain struct {
	Band        string  `json:"band" yaml:"band"`
	FrequencyHz float64 `json:"frequency_hz" yaml:"frequency_hz"`
	GainDB      float64 `json:"gain_db" yaml:"gain_db"`
}

// AnalysisReport is the result of analysing one input
type AnalysisReport struct {
	Source       string               `json:"source"`
	Backend      common.BackendType   `json:"backend"`
	SampleRate   int                  `json:"sample_rate"`
	Channels     int                  `json:"channels"`
	Duration     time.Duration        `json:"duration"`
	LoadTime     time.Duration        `json:"load_time"`
	Frames       int                  `json:"frames"`
	Extraction   time.Duration        `json:"extraction_time"`
	Features     common.FeatureVector `json:"features"`
	Prediction   *common.Prediction   `json:"prediction,omitempty"`
	ModelLoaded  bool                 `json:"model_loaded"`
	AnalysisTime time.Time            `json:"timestamp"`
}

func newAnalysisReport(audio *Audio, result analysis.Result, modelLoaded bool) *AnalysisReport {
	return &AnalysisReport{
		Source:       audio.Source,
		Backend:      result.Backend,
		SampleRate:   audio.SampleRate,
		Channels:     audio.Channels,
		Duration:     audio.Duration,
		LoadTime:     audio.LoadTime,
		Frames:       result.Frames,
		Extraction:   result.Duration,
		Features:     result.Features,
		Prediction:   result.Prediction,
		ModelLoaded:  modelLoaded,
		AnalysisTime: result.Time,
	}
}

// PredictionReport is the result of running the network on given features
type PredictionReport struct {
	Features   common.FeatureVector `json:"features"`
	Prediction common.Prediction    `json:"prediction"`
}

// BackendStatus describes one extractor backend
type BackendStatus struct {
	Backend    common.BackendType `json:"backend"`
	Name       string             `json:"name"`
	Registered bool               `json:"registered"`
	Available  bool               `json:"available"`
}

// BackendReport lists the backends and the selection the config leads to
type BackendReport struct {
	Requested          common.BackendType   `json:"requested"`
	Preferred          common.BackendType   `json:"preferred"`
	Fallback           bool                 `json:"fallback"`
	Chain              []common.BackendType `json:"chain"`
	Backends           []BackendStatus      `json:"backends"`
	ExternalExecutable string               `json:"external_executable,omitempty"`
}

var bandTitle = cases.Title(language.English)

// BandLabel formats a band name for display, e.g. "High Mid (4 kHz)"
func BandLabel(i int) string {
	if i < 0 || i >= common.PredictionSize {
		return ""
	}
	hz := common.TargetFrequencies[i]
	freq := fmt.Sprintf("%g Hz", hz)
	if hz >= 1000 {
		freq = fmt.Sprintf("%g kHz", hz/1000)
	}
	return fmt.Sprintf("%s (%s)", bandTitle.String(common.TargetBandNames[i]), freq)
}

// bandKey is the machine-readable form of a band name
func bandKey(i int) string {
	return strings.ReplaceAll(common.TargetBandNames[i], " ", "_")
}

// gains clamps a prediction to the configured limit and rounds it
func (app *App) gains(p common.Prediction) []BandGain {
	if limit := app.config.Output.ClampDB; limit > 0 {
		p = p.Clamp(-limit, limit)
	}
	out := make([]BandGain, 0, common.PredictionSize)
	for i, g := range p {
		out = append(out, BandGain{
			Band:        BandLabel(i),
			FrequencyHz: common.TargetFrequencies[i],
			GainDB:      app.round(g),
		})
	}
	return out
}

func (app *App) round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scale := math.Pow(10, float64(app.config.Output.Precision))
	return math.Round(v*scale) / scale
}

func (app *App) featureMap(fv common.FeatureVector) map[string]any {
	out := make(map[string]any, common.FeatureVectorSize)
	for i, name := range common.FeatureNames {
		out[name] = app.round(fv[i])
	}
	return out
}

func (app *App) gainMap(p common.Prediction) map[string]any {
	out := make(map[string]any, common.PredictionSize)
	for i, g := range app.gains(p) {
		out[bandKey(i)] = g.GainDB
	}
	return out
}

// AnalysisOutput shapes an analysis report for the formatters
func (app *App) AnalysisOutput(r *AnalysisReport) map[string]any {
	data := map[string]any{
		"source":           r.Source,
		"backend":          string(r.Backend),
		"sample_rate":      r.SampleRate,
		"channels":         r.Channels,
		"duration_seconds": app.round(r.Duration.Seconds()),
		"frames":           r.Frames,
		"extraction_ms":    r.Extraction.Milliseconds(),
		"model_loaded":     r.ModelLoaded,
		"features":         app.featureMap(r.Features),
		"timestamp":        r.AnalysisTime,
	}
	if app.config.Verbose {
		data["load_ms"] = r.LoadTime.Milliseconds()
		data["feature_vector"] = r.Features.Slice()
	}
	if r.Prediction != nil {
		data["gains_db"] = app.gainMap(*r.Prediction)
		data["bands"] = app.gains(*r.Prediction)
	}
	return data
}

// PredictionOutput shapes a prediction report for the formatters
func (app *App) PredictionOutput(r *PredictionReport) map[string]any {
	return map[string]any{
		"features": app.featureMap(r.Features),
		"gains_db": app.gainMap(r.Prediction),
		"bands":    app.gains(r.Prediction),
	}
}

// BackendsOutput shapes a backend report for the formatters
func (app *App) BackendsOutput(r *BackendReport) map[string]any {
	chain := make([]string, len(r.Chain))
	for i, b := range r.Chain {
		chain[i] = string(b)
	}

	backends := make(map[string]any, len(r.Backends))
	for _, b := range r.Backends {
		backends[string(b.Backend)] = map[string]any{
			"name":       b.Name,
			"registered": b.Registered,
			"available":  b.Available,
		}
	}

	data := map[string]any{
		"requested": string(r.Requested),
		"preferred": string(r.Preferred),
		"fallback":  r.Fallback,
		"chain":     strings.Join(chain, " -> "),
		"backends":  backends,
		"model": map[string]any{
			"loaded": app.network.IsLoaded(),
		},
	}
	if r.ExternalExecutable != "" {
		data["external_executable"] = r.ExternalExecutable
	}
	return data
}

// SummaryOutput shapes a monitor summary for the formatters
func (app *App) SummaryOutput(source string, s *analysis.Summary) map[string]any {
	features := make(map[string]any, len(s.Features))
	for name, st := range s.Features {
		features[name] = map[string]any{
			"mean":    app.round(st.Mean),
			"std_dev": app.round(st.StdDev),
			"min":     app.round(st.Min),
			"max":     app.round(st.Max),
		}
	}

	data := map[string]any{
		"source":        source,
		"results":       s.Results,
		"zero_vectors":  s.ZeroVectors,
		"skipped_ticks": s.Skipped,
		"backends":      s.Backends,
		"elapsed_ms":    s.Elapsed.Milliseconds(),
		"duration_ms": map[string]any{
			"mean": app.round(s.DurationMs.Mean),
			"p95":  app.round(s.DurationMs.P95),
			"max":  app.round(s.DurationMs.Max),
		},
		"features": features,
	}
	if s.Gains != nil {
		gains := make(map[string]any, len(s.Gains))
		for name, st := range s.Gains {
			gains[strings.ReplaceAll(name, " ", "_")] = map[string]any{
				"mean":    app.round(st.Mean),
				"std_dev": app.round(st.StdDev),
			}
		}
		data["gains_db"] = gains
	}
	return data
}

// ResultOutput shapes one monitor tick as a single line of values
func (app *App) ResultOutput(r analysis.Result) map[string]any {
	data := map[string]any{
		"time":          r.Time.Format(time.RFC3339Nano),
		"backend":       string(r.Backend),
		"extraction_ms": app.round(float64(r.Duration) / float64(time.Millisecond)),
		"centroid":      app.round(r.Features.Centroid()),
		"rolloff":       app.round(r.Features.Rolloff()),
		"rms":           app.round(r.Features.RMS()),
	}
	if r.Prediction != nil {
		for k, v := range app.gainMap(*r.Prediction) {
			data["gain_"+k] = v
		}
	}
	return data
}

func (app *App) formatter() output.Formatter {
	switch app.config.Output.Format {
	case "json":
		return &output.JSONFormatter{}
	case "yaml":
		return &output.YAMLFormatter{}
	case "csv":
		return &output.CSVFormatter{}
	case "table":
		return &output.TableFormatter{}
	default:
		return &output.JSONFormatter{}
	}
}

// Format renders data in the configured output format
func (app *App) Format(data map[string]any) ([]byte, error) {
	formatter := app.formatter()

	formatted, err := formatter.Format(data, app.config.Output.Pretty)
	if err != nil {
		// If JSON formatting fails due to infinite values, try to sanitize the data
		if strings.Contains(err.Error(), "unsupported value") {
			formatted, err = formatter.Format(sanitizeForJSON(data), app.config.Output.Pretty)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to format output data: %w", err)
		}
	}
	return formatted, nil
}

// Emit formats data and writes it to the output file, or to the app's
// writer when no file is configured
func (app *App) Emit(data map[string]any) error {
	formatted, err := app.Format(data)
	if err != nil {
		return err
	}

	if app.config.Output.File != "" {
		return app.writeToFile(app.config.Output.File, formatted)
	}

	_, err = app.out.Write(formatted)
	return err
}
