package app

import (
	"strings"
	"sync"
	"syscall"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/tunein/go-logging/v7/pkg/logger"
	"github.com/tunein/go-logging/v7/pkg/logger/logtypes"
	"github.com/tunein/go-logging/v7/pkg/rootcollector"
	"github.com/tunein/go-logging/v7/pkg/rootlogger"
	"github.com/vaclisinc/VTR-plugin-sub000/configs"
	"github.com/vaclisinc/VTR-plugin-sub000/internal/analysis"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

const (
	metricExtractionDuration = "vtr.extraction.duration.ms"
	metricPredictionGain     = "vtr.prediction.gain.millidb"
	metricZeroVectors        = "vtr.extraction.zero_vectors"
	metricSkippedTicks       = "vtr.analysis.skipped_ticks"
	metricResults            = "vtr.analysis.results"
)

// MetricsReporter sends extraction metrics to rootcollector. A disabled
// reporter does nothing.
type MetricsReporter struct {
	enabled bool
	logPath string
	once    sync.Once
	logger  logging.Logger
}

// NewMetricsReporter creates a reporter from the metrics config
func NewMetricsReporter(cfg configs.MetricsConfig, log logging.Logger) *MetricsReporter {
	if log == nil {
		log = logging.NewDefaultLogger()
	}
	return &MetricsReporter{
		enabled: cfg.Enabled,
		logPath: cfg.LogPath,
		logger:  log.WithFields(logging.Fields{"component": "metrics"}),
	}
}

// Enabled reports whether metrics are emitted
func (m *MetricsReporter) Enabled() bool { return m.enabled }

func (m *MetricsReporter) configure() {
	m.once.Do(func() {
		err := rootlogger.Configure(logger.LogOptions{
			Out:          m.logPath,
			ReopenSignal: syscall.SIGHUP,
			Level:        logtypes.InfoLevel,
		})
		if err != nil {
			logging.Error(err, "Failed configuring log writer")
			return
		}
		m.logger.Debug("Metrics writer configured", logging.Fields{"log_path": m.logPath})
	})
}

// RecordResult sends the extraction time and any predicted gains
func (m *MetricsReporter) RecordResult(res analysis.Result) {
	if !m.enabled {
		return
	}
	m.configure()

	tags := []string{"backend:" + string(res.Backend)}
	rootcollector.Metric(metricExtractionDuration, res.Duration.Milliseconds(), tags)
	if res.Features.IsZero() {
		rootcollector.Metric(metricZeroVectors, 1, tags)
	}

	if res.Prediction == nil {
		return
	}
	for i, g := range res.Prediction {
		// Gains are sent in milli-dB because metrics are int64
		bandTags := append(append([]string{}, tags...), "band:"+strings.ReplaceAll(common.TargetBandNames[i], " ", "_"))
		rootcollector.Metric(metricPredictionGain, int64(g*1000), bandTags)
	}
}

// RecordSummary sends run totals
func (m *MetricsReporter) RecordSummary(s *analysis.Summary) {
	if !m.enabled || s == nil {
		return
	}
	m.configure()

	for backend, n := range s.Backends {
		tags := []string{"backend:" + backend}
		rootcollector.Metric(metricResults, int64(n), tags)
	}
	rootcollector.Metric(metricSkippedTicks, s.Skipped, nil)
}
