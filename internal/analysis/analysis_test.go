package analysis

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/extractors"
)

// stubExtractor reports the frame length and first sample as features and
// can be made to block.
type stubExtractor struct {
	backend common.BackendType
	calls   atomic.Int64
	active  atomic.Int64
	overlap atomic.Bool
	gate    chan struct{}
}

func (s *stubExtractor) Extract(signal []float32, sampleRate int) common.FeatureVector {
	s.calls.Add(1)
	if s.active.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.active.Add(-1)
	if s.gate != nil {
		<-s.gate
	}

	var fv common.FeatureVector
	fv[common.IdxCentroid] = float64(len(signal))
	fv[common.IdxBandwidth] = float64(sampleRate)
	if len(signal) > 0 {
		fv[common.IdxRMS] = float64(signal[0])
	}
	return fv
}

func (s *stubExtractor) MFCC([]float32, int) []float64 { return make([]float64, common.NumMFCC) }
func (s *stubExtractor) SpectralCentroid([]float32, int) float64 { return 0 }
func (s *stubExtractor) SpectralBandwidth([]float32, int) float64 { return 0 }
func (s *stubExtractor) SpectralRolloff([]float32, int) float64 { return 0 }
func (s *stubExtractor) RMS([]float32) float64 { return 0 }
func (s *stubExtractor) Backend() common.BackendType { return s.backend }
func (s *stubExtractor) Close() error { return nil }

var _ extractors.Extractor = (*stubExtractor)(nil)

type stubPredictor struct{ loaded bool }

func (p stubPredictor) IsLoaded() bool { return p.loaded }
func (p stubPredictor) PredictVector(fv common.FeatureVector) common.Prediction {
	return common.Prediction{fv.Centroid(), 0, 0, 0, fv.RMS()}
}

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestFrameBuffer(t *testing.T) {
	fb := NewFrameBuffer(4, 8000)

	_, ok := fb.Snapshot()
	assert.False(t, ok)

	fb.Write([]float32{1, 2, 3})
	_, ok = fb.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, 3, fb.Len())

	fb.Write([]float32{4, 5})
	frame, ok := fb.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []float32{2, 3, 4, 5}, frame.Samples)
	assert.Equal(t, 8000, frame.SampleRate)

	// snapshots are copies
	frame.Samples[0] = 99
	again, _ := fb.Snapshot()
	assert.Equal(t, float32(2), again.Samples[0])

	fb.Write([]float32{6, 7, 8, 9, 10, 11})
	frame, _ = fb.Snapshot()
	assert.Equal(t, []float32{8, 9, 10, 11}, frame.Samples)

	fb.Reset(16000)
	assert.Zero(t, fb.Len())
	assert.Equal(t, 16000, fb.SampleRate())
	assert.Equal(t, 4, fb.Capacity())
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, DefaultRateHz, ClampRate(0))
	assert.Equal(t, MinRateHz, ClampRate(1))
	assert.Equal(t, MaxRateHz, ClampRate(120))
	assert.Equal(t, 12.5, ClampRate(12.5))
}

func TestNewEngineRequiresExtractor(t *testing.T) {
	_, err := NewEngine(nil, nil, Config{})
	assert.Error(t, err)
}

type EngineTestSuite struct {
	suite.Suite
	extractor *stubExtractor
	engine    *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.extractor = &stubExtractor{backend: common.BackendAnalytic}
	engine, err := NewEngine(s.extractor, stubPredictor{loaded: true}, Config{
		FFTSize:    8,
		HopSize:    4,
		SampleRate: 1000,
		RateHz:     30,
	})
	s.Require().NoError(err)
	s.engine = engine
}

func (s *EngineTestSuite) TestAnalyzeFrame() {
	res := s.engine.AnalyzeFrame(common.AudioFrame{Samples: []float32{0.25, 0, 0}, SampleRate: 1000})

	s.Equal(3.0, res.Features.Centroid())
	s.Equal(1000.0, res.Features.Bandwidth())
	s.Equal(common.BackendAnalytic, res.Backend)
	s.Equal(1, res.Frames)
	s.Require().NotNil(res.Prediction)
	s.Equal(3.0, res.Prediction[0])
	s.Equal(0.25, res.Prediction[4])
	s.False(res.Time.IsZero())
}

func (s *EngineTestSuite) TestAnalyzeSignalAveragesFrames() {
	// 20 samples, frame 8, hop 4: frames start at 0, 4, 8, 12
	res := s.engine.AnalyzeSignal(ramp(20), 1000)

	s.Equal(4, res.Frames)
	s.Equal(int64(4), s.extractor.calls.Load())
	s.Equal(8.0, res.Features.Centroid())
	s.Equal((0+4+8+12)/4.0, res.Features.RMS())
}

func (s *EngineTestSuite) TestAnalyzeSignalShortInput() {
	res := s.engine.AnalyzeSignal(ramp(5), 1000)
	s.Equal(1, res.Frames)
	s.Equal(5.0, res.Features.Centroid())

	empty := s.engine.AnalyzeSignal(nil, 1000)
	s.Equal(1, empty.Frames)
	s.Zero(empty.Features.Centroid())
}

func (s *EngineTestSuite) TestUnloadedPredictorIsSkipped() {
	engine, err := NewEngine(s.extractor, stubPredictor{}, Config{FFTSize: 8})
	s.Require().NoError(err)
	s.Nil(engine.AnalyzeFrame(common.AudioFrame{Samples: ramp(8), SampleRate: 1000}).Prediction)
}

func (s *EngineTestSuite) TestRunDeliversResults() {
	ctx, cancel := context.WithCancel(context.Background())
	s.engine.Write(ramp(8))

	results := make(chan Result, 64)
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx, func(r Result) { results <- r }) }()

	select {
	case res := <-results:
		s.Equal(8.0, res.Features.Centroid())
	case <-time.After(2 * time.Second):
		s.Fail("no result delivered")
	}

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *EngineTestSuite) TestRunWaitsForFullFrame() {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.engine.Write(ramp(3))

	var delivered atomic.Int64
	_ = s.engine.Run(ctx, func(Result) { delivered.Add(1) })
	s.Zero(delivered.Load())
	s.Zero(s.extractor.calls.Load())
}

func (s *EngineTestSuite) TestRunSkipsTicksWhileBusy() {
	s.extractor.gate = make(chan struct{})
	s.engine.Write(ramp(8))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx, nil) }()

	s.Eventually(func() bool { return s.engine.Skipped() >= 2 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(int64(1), s.extractor.calls.Load())

	cancel()
	close(s.extractor.gate)
	<-done
	s.False(s.extractor.overlap.Load())
}

func (s *EngineTestSuite) TestSetExtractorWaitsForInFlight() {
	s.extractor.gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.engine.AnalyzeFrame(common.AudioFrame{Samples: ramp(8), SampleRate: 1000})
	}()
	s.Eventually(func() bool { return s.extractor.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	swapped := make(chan extractors.Extractor, 1)
	replacement := &stubExtractor{backend: common.BackendInterpreter}
	go func() { swapped <- s.engine.SetExtractor(replacement) }()

	select {
	case <-swapped:
		s.Fail("extractor swapped during an analysis")
	case <-time.After(50 * time.Millisecond):
	}

	close(s.extractor.gate)
	old := <-swapped
	wg.Wait()

	s.Same(s.extractor, old)
	s.Equal(common.BackendInterpreter, s.engine.Backend())
}

func (s *EngineTestSuite) TestSetExtractorIgnoresNil() {
	before := s.engine.Backend()

	s.NotPanics(func() { s.Nil(s.engine.SetExtractor(nil)) })
	s.Equal(before, s.engine.Backend())

	res := s.engine.AnalyzeFrame(common.AudioFrame{Samples: ramp(8), SampleRate: 1000})
	s.Equal(before, res.Backend)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestSummarize(t *testing.T) {
	sc := NewStatsCalculator(nil)

	empty := sc.Summarize(nil)
	assert.Zero(t, empty.Results)
	assert.NotNil(t, empty.DurationMs)

	start := time.Now()
	p := common.Prediction{1, 2, 3, 4, 5}
	results := []Result{
		{Backend: common.BackendAnalytic, Duration: 2 * time.Millisecond, Time: start, Prediction: &p},
		{Backend: common.BackendAnalytic, Duration: 4 * time.Millisecond, Time: start.Add(time.Second)},
		{Backend: common.BackendExternal, Duration: 6 * time.Millisecond, Time: start.Add(2 * time.Second)},
	}
	results[1].Features[common.IdxRMS] = 0.5
	results[2].Features[common.IdxRMS] = 1.0

	summary := sc.Summarize(results)
	assert.Equal(t, 3, summary.Results)
	assert.Equal(t, 1, summary.ZeroVectors)
	assert.Equal(t, map[string]int{"analytic": 2, "external": 1}, summary.Backends)
	assert.Equal(t, 2*time.Second, summary.Elapsed)

	assert.InDelta(t, 4, summary.DurationMs.Mean, 1e-9)
	assert.InDelta(t, 4, summary.DurationMs.Median, 1e-9)
	assert.InDelta(t, 2, summary.DurationMs.Min, 1e-9)
	assert.InDelta(t, 6, summary.DurationMs.Max, 1e-9)
	assert.InDelta(t, math.Sqrt(8.0/3), summary.DurationMs.StdDev, 1e-9)
	assert.InDelta(t, 5.8, summary.DurationMs.P95, 1e-9)

	rms := summary.Features[common.FeatureNames[common.IdxRMS]]
	require.NotNil(t, rms)
	assert.InDelta(t, 0.5, rms.Mean, 1e-9)

	require.Len(t, summary.Gains, common.PredictionSize)
	assert.Equal(t, 1, summary.Gains[common.TargetBandNames[0]].Count)
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 95))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)
}
