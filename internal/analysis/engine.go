package analysis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/extractors"
)

const (
	MinRateHz     = 5.0
	MaxRateHz     = 30.0
	DefaultRateHz = 10.0
)

// Predictor turns a feature vector into band gains
type Predictor interface {
	IsLoaded() bool
	PredictVector(fv common.FeatureVector) common.Prediction
}

// Result is one analysis pass
type Result struct {
	Features   common.FeatureVector `json:"features"`
	Prediction *common.Prediction   `json:"prediction,omitempty"`
	Backend    common.BackendType   `json:"backend"`
	Frames     int                  `json:"frames"`
	Duration   time.Duration        `json:"duration"`
	Time       time.Time            `json:"time"`
}

// Sink receives results produced by Run
type Sink func(Result)

// Config controls framing and cadence
type Config struct {
	RateHz     float64
	FFTSize    int
	HopSize    int
	SampleRate int
	Logger     logging.Logger
}

// ClampRate keeps the cadence within MinRateHz..MaxRateHz; zero or
// negative selects DefaultRateHz.
func ClampRate(hz float64) float64 {
	if hz <= 0 {
		return DefaultRateHz
	}
	return min(max(hz, MinRateHz), MaxRateHz)
}

// Engine runs an extractor, and optionally a predictor, over buffered audio
// at a fixed cadence. At most one analysis runs at a time.
type Engine struct {
	// mu is held for the whole of every analysis
	mu        sync.Mutex
	extractor extractors.Extractor
	predictor Predictor

	buffer   *FrameBuffer
	cfg      Config
	logger   logging.Logger
	inFlight atomic.Bool
	skipped  atomic.Int64
}

// NewEngine creates an engine around extractor. predictor may be nil.
func NewEngine(extractor extractors.Extractor, predictor Predictor, cfg Config) (*Engine, error) {
	if extractor == nil {
		return nil, errors.New("analysis engine needs an extractor")
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = analyzers.DefaultFFTSize
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = cfg.FFTSize / 4
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	cfg.RateHz = ClampRate(cfg.RateHz)

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Engine{
		extractor: extractor,
		predictor: predictor,
		buffer:    NewFrameBuffer(cfg.FFTSize, cfg.SampleRate),
		cfg:       cfg,
		logger:    logger.WithFields(logging.Fields{"component": "analysis_engine"}),
	}, nil
}

// Buffer is the frame buffer Run reads from
func (e *Engine) Buffer() *FrameBuffer { return e.buffer }

// Write feeds samples to the frame buffer
func (e *Engine) Write(samples []float32) { e.buffer.Write(samples) }

// RateHz returns the effective cadence
func (e *Engine) RateHz() float64 { return e.cfg.RateHz }

// Skipped counts ticks dropped because an analysis was still running
func (e *Engine) Skipped() int64 { return e.skipped.Load() }

// Backend reports the backend currently in use
func (e *Engine) Backend() common.BackendType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.extractor.Backend()
}

// SetExtractor swaps the backend once any in-flight analysis has finished
// and returns the previous one, which the caller now owns. A nil extractor
// is ignored: the current one stays and nil is returned.
func (e *Engine) SetExtractor(extractor extractors.Extractor) extractors.Extractor {
	if extractor == nil {
		e.logger.Warn("Ignoring nil extractor")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.extractor
	e.extractor = extractor
	e.logger.Info("Extractor switched", logging.Fields{
		"from": string(old.Backend()),
		"to":   string(extractor.Backend()),
	})
	return old
}

// AnalyzeFrame extracts features from a single frame
func (e *Engine) AnalyzeFrame(frame common.AudioFrame) Result {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	fv := e.extractor.Extract(frame.Samples, frame.SampleRate)
	return e.finishLocked(fv, 1, start)
}

// AnalyzeSignal walks signal in FFT-size frames spaced by the hop size and
// averages the feature vectors. Signals shorter than one frame are analysed
// as a single zero-padded frame.
func (e *Engine) AnalyzeSignal(signal []float32, sampleRate int) Result {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	size, hop := e.cfg.FFTSize, e.cfg.HopSize
	frames := 1
	if len(signal) > size {
		frames = 1 + (len(signal)-size)/hop
	}

	var sum common.FeatureVector
	for f := 0; f < frames; f++ {
		lo := f * hop
		hi := min(lo+size, len(signal))
		fv := e.extractor.Extract(signal[lo:hi], sampleRate)
		for i := range sum {
			sum[i] += fv[i]
		}
	}
	for i := range sum {
		sum[i] /= float64(frames)
	}

	return e.finishLocked(sum.Sanitize(), frames, start)
}

func (e *Engine) finishLocked(fv common.FeatureVector, frames int, start time.Time) Result {
	res := Result{
		Features: fv,
		Backend:  e.extractor.Backend(),
		Frames:   frames,
	}
	if e.predictor != nil && e.predictor.IsLoaded() {
		p := e.predictor.PredictVector(fv)
		res.Prediction = &p
	}
	res.Time = time.Now()
	res.Duration = res.Time.Sub(start)
	return res
}

// Run analyses the buffer every 1/RateHz until ctx is done. Ticks that
// arrive while an analysis is running, or before the buffer holds a full
// frame, are skipped.
func (e *Engine) Run(ctx context.Context, sink Sink) error {
	interval := time.Duration(float64(time.Second) / e.cfg.RateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Debug("Analysis loop started", logging.Fields{
		"rate_hz":  e.cfg.RateHz,
		"fft_size": e.cfg.FFTSize,
	})

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("Analysis loop stopped", logging.Fields{"skipped": e.skipped.Load()})
			return ctx.Err()
		case <-ticker.C:
		}

		frame, ok := e.buffer.Snapshot()
		if !ok {
			continue
		}
		if !e.inFlight.CompareAndSwap(false, true) {
			e.skipped.Add(1)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.inFlight.Store(false)

			res := e.AnalyzeFrame(frame)
			if sink != nil {
				sink(res)
			}
		}()
	}
}
