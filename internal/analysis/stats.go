package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"gonum.org/v1/gonum/stat"
)

// Stats represents statistical measures of one quantity over a run
type Stats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95" yaml:"p95"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`
	Count  int     `json:"count" yaml:"count"`
}

// Summary aggregates the results of a monitoring run
type Summary struct {
	Results     int               `json:"results" yaml:"results"`
	ZeroVectors int               `json:"zero_vectors" yaml:"zero_vectors"`
	Skipped     int64             `json:"skipped_ticks" yaml:"skipped_ticks"`
	Backends    map[string]int    `json:"backends" yaml:"backends"`
	DurationMs  *Stats            `json:"duration_ms" yaml:"duration_ms"`
	Features    map[string]*Stats `json:"features" yaml:"features"`
	Gains       map[string]*Stats `json:"gains,omitempty" yaml:"gains,omitempty"`
	Elapsed     time.Duration     `json:"elapsed" yaml:"elapsed"`
}

// StatsCalculator summarizes a sequence of Results
type StatsCalculator struct {
	logger logging.Logger
}

// NewStatsCalculator creates a new calculator
func NewStatsCalculator(logger logging.Logger) *StatsCalculator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &StatsCalculator{logger: logger}
}

// Summarize computes per-feature, per-band and timing statistics
func (sc *StatsCalculator) Summarize(results []Result) *Summary {
	summary := &Summary{
		Results:  len(results),
		Backends: make(map[string]int),
		Features: make(map[string]*Stats),
	}
	if len(results) == 0 {
		summary.DurationMs = &Stats{}
		return summary
	}

	durations := make([]float64, 0, len(results))
	features := make([][]float64, common.FeatureVectorSize)
	var gains [][]float64

	for _, r := range results {
		summary.Backends[string(r.Backend)]++
		if r.Features.IsZero() {
			summary.ZeroVectors++
		}
		durations = append(durations, float64(r.Duration)/float64(time.Millisecond))
		for i, v := range r.Features {
			features[i] = append(features[i], v)
		}
		if r.Prediction != nil {
			if gains == nil {
				gains = make([][]float64, common.PredictionSize)
			}
			for i, g := range r.Prediction {
				gains[i] = append(gains[i], g)
			}
		}
	}

	summary.DurationMs = sc.calculateStats(durations)
	for i, name := range common.FeatureNames {
		summary.Features[name] = sc.calculateStats(features[i])
	}
	if gains != nil {
		summary.Gains = make(map[string]*Stats, common.PredictionSize)
		for i, name := range common.TargetBandNames {
			summary.Gains[name] = sc.calculateStats(gains[i])
		}
	}

	first, last := results[0].Time, results[len(results)-1].Time
	summary.Elapsed = last.Sub(first)

	sc.logger.Debug("Run summarized", logging.Fields{
		"results":      summary.Results,
		"zero_vectors": summary.ZeroVectors,
	})
	return summary
}

// calculateStats calculates statistical measures for a dataset
func (sc *StatsCalculator) calculateStats(data []float64) *Stats {
	if len(data) == 0 {
		return &Stats{}
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	mean, variance := stat.PopMeanVariance(sorted, nil)
	s := &Stats{
		Count:  len(data),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Median: percentile(sorted, 50),
		P95:    percentile(sorted, 95),
		Mean:   mean,
		StdDev: math.Sqrt(variance),
	}
	return sanitizeStats(s)
}

// sanitizeStats keeps NaN and Inf out of JSON output
func sanitizeStats(s *Stats) *Stats {
	for _, v := range []*float64{&s.Mean, &s.Median, &s.P95, &s.Min, &s.Max, &s.StdDev} {
		if math.IsInf(*v, 0) || math.IsNaN(*v) {
			*v = 0
		}
	}
	return s
}

// percentile interpolates the p-th percentile of sorted data
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
