package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/configs"
	"github.com/vaclisinc/VTR-plugin-sub000/internal/analysis"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/extractors"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/bridge"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/inference"
)

// Context holds the application context and configuration
type Context struct {
	// CLI arguments
	ConfigFile      string // Application configuration file (optional)
	ProfileFile     string // Extraction profile (optional)
	OutputFile      string
	OutputFormat    string
	Backend         string
	NoFallback      bool
	RateHz          float64
	SegmentDuration time.Duration
	WeightsFile     string
	ScalerFile      string
	NoModel         bool
	Executable      string
	Codec           string
	ContentType     string
	Verbose         bool
	Quiet           bool

	// Speed scales the real-time pacing of monitor input; 0 means 1.
	Speed float64

	// Runtime context
	Logger  logging.Logger
	Config  *configs.Config
	Profile *Profile
}

// App handles the analyzer application lifecycle
type App struct {
	ctx     *Context
	config  *configs.Config
	logger  logging.Logger
	loader  *AudioLoader
	factory *extractors.Factory
	network *inference.Network
	metrics *MetricsReporter
	out     io.Writer
}

// NewApp creates a new application
func NewApp(ctx *Context) (*App, error) {
	// Set up logging
	logger := setupLogging(ctx)
	ctx.Logger = logger

	// Load configuration
	config, profile, err := loadAndMergeConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx.Config = config
	ctx.Profile = profile

	loader := NewAudioLoader(config.Analysis.SegmentDuration, config.Stream.Timeout, logger)
	loader.SetDefaultSampleRate(config.Extraction.SampleRate)
	switch {
	case ctx.ContentType != "":
		loader.SetContentType(ctx.ContentType)
	case profile != nil:
		loader.SetContentType(profile.ContentType)
	}

	app := &App{
		ctx:     ctx,
		config:  config,
		logger:  logger,
		loader:  loader,
		metrics: NewMetricsReporter(config.Metrics, logger),
		out:     os.Stdout,
	}
	app.factory = extractors.NewFactory(app.extractorConfig())
	app.network = app.loadNetwork()

	logger.Debug("Application initialized", logging.Fields{
		"config_file":  ctx.ConfigFile,
		"profile_file": ctx.ProfileFile,
		"backend":      config.Extraction.Backend,
		"fallback":     config.Extraction.Fallback,
		"model_loaded": app.network.IsLoaded(),
	})

	return app, nil
}

// setupLogging configures logging based on context
func setupLogging(ctx *Context) logging.Logger {
	switch {
	case ctx.Verbose:
		logging.SetLevel(logging.DebugLevel)
	case ctx.Quiet:
		logging.SetLevel(logging.ErrorLevel)
	default:
		logging.SetLevel(logging.InfoLevel)
	}
	return logging.NewDefaultLogger()
}

// loadAndMergeConfig loads configuration from viper and the optional
// profile, then applies CLI flags on top
func loadAndMergeConfig(ctx *Context) (*configs.Config, *Profile, error) {
	// Load base configuration
	config, err := configs.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load base configuration: %w", err)
	}

	profilePath := ctx.ProfileFile
	if profilePath == "" {
		profilePath = config.Analysis.Profile
	}

	var profile *Profile
	if profilePath != "" {
		profile, err = LoadProfile(profilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load profile: %w", err)
		}
		ApplyProfile(config, profile)
	}

	mergeContextConfig(config, ctx)

	if err := configs.ValidateConfig(config); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, profile, nil
}

// extractorConfig maps application settings onto the extractor factory
func (app *App) extractorConfig() *extractors.Config {
	c := app.config
	return &extractors.Config{
		FFTSize:          c.Extraction.FFTSize,
		HopSize:          c.Analysis.HopSize,
		NumMelFilters:    c.Extraction.MelFilters,
		RolloffThreshold: c.Extraction.RolloffThreshold,
		Fallback:         c.Extraction.Fallback,
		Bridge: &bridge.Config{
			ExecutablePath:   c.Bridge.Executable,
			Args:             c.Bridge.Args,
			Env:              c.Bridge.Env,
			Codec:            c.Bridge.Codec,
			HandshakeTimeout: c.Bridge.HandshakeTimeout,
			ReadTimeout:      c.Bridge.ReadTimeout,
			ShutdownTimeout:  c.Bridge.ShutdownTimeout,
			MaxFrameSize:     c.Bridge.MaxFrameSize,
		},
		Logger: app.logger,
	}
}

// loadNetwork never fails: without model files the network stays unloaded
// and predictions are omitted.
func (app *App) loadNetwork() *inference.Network {
	network := inference.NewNetwork(app.logger)
	if app.config.Model.Disabled {
		return network
	}

	weights, scaler := app.config.Model.Weights, app.config.Model.Scaler
	if weights == "" || scaler == "" {
		paths := append(append([]string{}, app.config.Model.SearchPaths...), inference.DefaultModelSearchPaths()...)
		w, s, err := inference.FindModelFiles(paths)
		if err != nil {
			app.logger.Debug("No model files found, predictions disabled", logging.Fields{
				"search_paths": paths,
			})
			return network
		}
		if weights == "" {
			weights = w
		}
		if scaler == "" {
			scaler = s
		}
	}

	if err := network.LoadModel(weights, scaler); err != nil {
		app.logger.Warn("Model unavailable, predictions disabled", logging.Fields{
			"weights": weights,
			"scaler":  scaler,
			"error":   err.Error(),
		})
	}
	return network
}

// Config returns the merged configuration
func (app *App) Config() *configs.Config { return app.config }

// Network returns the inference network, loaded or not
func (app *App) Network() *inference.Network { return app.network }

// Factory returns the extractor factory
func (app *App) Factory() *extractors.Factory { return app.factory }

// SetOutput redirects formatted results, which go to stdout by default
func (app *App) SetOutput(w io.Writer) { app.out = w }

// BuildExtractor creates the configured backend, falling back as allowed
func (app *App) BuildExtractor(ctx context.Context) (extractors.Extractor, error) {
	backend, err := common.ParseBackendType(app.config.Extraction.Backend)
	if err != nil {
		return nil, err
	}
	return app.factory.Create(ctx, backend)
}

func (app *App) newEngine(ext extractors.Extractor, sampleRate int) (*analysis.Engine, error) {
	if sampleRate <= 0 {
		sampleRate = app.config.Extraction.SampleRate
	}
	return analysis.NewEngine(ext, app.network, analysis.Config{
		RateHz:     app.config.Analysis.RateHz,
		FFTSize:    app.config.Extraction.FFTSize,
		HopSize:    app.config.Analysis.HopSize,
		SampleRate: sampleRate,
		Logger:     app.logger,
	})
}

func (app *App) closeExtractor(ext extractors.Extractor) {
	if err := ext.Close(); err != nil {
		app.logger.Warn("Failed to close extractor", logging.Fields{
			"backend": string(ext.Backend()),
			"error":   err.Error(),
		})
	}
}

// Analyze extracts averaged features, and gains when a model is loaded,
// from a file or stream URL
func (app *App) Analyze(ctx context.Context, input string) (*AnalysisReport, error) {
	audio, err := app.loader.Load(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(audio.Samples) == 0 {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeInvalidInput,
			fmt.Sprintf("%s contains no audio", input), nil)
	}

	ext, err := app.BuildExtractor(ctx)
	if err != nil {
		return nil, err
	}
	defer app.closeExtractor(ext)

	engine, err := app.newEngine(ext, audio.SampleRate)
	if err != nil {
		return nil, err
	}

	result := engine.AnalyzeSignal(audio.Samples, audio.SampleRate)
	app.metrics.RecordResult(result)

	app.logger.Info("Analysis completed", logging.Fields{
		"source":   input,
		"backend":  string(result.Backend),
		"frames":   result.Frames,
		"duration": result.Duration.Milliseconds(),
	})

	return newAnalysisReport(audio, result, app.network.IsLoaded()), nil
}

// Predict runs the network on a raw 17-value feature vector
func (app *App) Predict(features []float64) (*PredictionReport, error) {
	fv, err := common.FeatureVectorFromSlice(features)
	if err != nil {
		return nil, err
	}
	if !app.network.IsLoaded() {
		return nil, common.NewAudioError(common.BackendNone, common.ErrCodeNotReady,
			"inference model is not loaded", nil)
	}

	prediction := app.network.PredictVector(fv.Sanitize())
	return &PredictionReport{
		Features:   fv,
		Prediction: prediction,
	}, nil
}

// Backends reports which extractor backends can be used on this host
func (app *App) Backends() *BackendReport {
	registered := make(map[common.BackendType]bool)
	for _, b := range app.factory.SupportedTypes() {
		registered[b] = true
	}

	requested, _ := common.ParseBackendType(app.config.Extraction.Backend)
	report := &BackendReport{
		Requested: requested,
		Preferred: app.factory.PreferredBackend(),
		Fallback:  app.config.Extraction.Fallback,
		Chain:     app.factory.Chain(requested),
	}
	for _, b := range common.AllBackends {
		report.Backends = append(report.Backends, BackendStatus{
			Backend:    b,
			Name:       b.DisplayName(),
			Registered: registered[b],
			Available:  registered[b] && app.factory.IsAvailable(b),
		})
	}
	if path, err := bridge.DefaultLocator().Find(); err == nil {
		report.ExternalExecutable = path
	}
	if app.config.Bridge.Executable != "" {
		report.ExternalExecutable = app.config.Bridge.Executable
	}
	return report
}

// Monitor plays input through the frame buffer in real time while the
// engine analyses it at the configured cadence. Every result goes to sink;
// the returned summary covers the whole run.
func (app *App) Monitor(ctx context.Context, input string, sink analysis.Sink) (*analysis.Summary, error) {
	audio, err := app.loader.Load(ctx, input)
	if err != nil {
		return nil, err
	}

	ext, err := app.BuildExtractor(ctx)
	if err != nil {
		return nil, err
	}
	defer app.closeExtractor(ext)

	engine, err := app.newEngine(ext, audio.SampleRate)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results []analysis.Result
	)
	collect := func(r analysis.Result) {
		app.metrics.RecordResult(r)
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		if sink != nil {
			sink(r)
		}
	}

	go func() {
		defer cancel()
		app.feed(runCtx, engine, audio)
	}()

	app.logger.Info("Monitoring started", logging.Fields{
		"source":   input,
		"backend":  string(engine.Backend()),
		"rate_hz":  engine.RateHz(),
		"duration": audio.Duration.Seconds(),
	})

	if err := engine.Run(runCtx, collect); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	mu.Lock()
	summary := analysis.NewStatsCalculator(app.logger).Summarize(results)
	mu.Unlock()
	summary.Skipped = engine.Skipped()
	app.metrics.RecordSummary(summary)

	return summary, nil
}

// feed writes audio to the engine one hop at a time at playback speed
func (app *App) feed(ctx context.Context, engine *analysis.Engine, audio *Audio) {
	speed := app.ctx.Speed
	if speed <= 0 {
		speed = 1
	}
	chunk := app.config.Analysis.HopSize
	interval := time.Duration(float64(chunk) / float64(audio.SampleRate) / speed * float64(time.Second))
	if interval < time.Microsecond {
		interval = time.Microsecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for off := 0; off < len(audio.Samples); off += chunk {
		engine.Write(audio.Samples[off:min(off+chunk, len(audio.Samples))])
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases process-wide resources held by the backends
func (app *App) Close() {
	extractors.ShutdownInterpreter()
}

// writeToFile writes data to the specified output file
func (app *App) writeToFile(path string, data []byte) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	app.logger.Debug("Results written to file", logging.Fields{
		"output_file": path,
		"size_bytes":  len(data),
	})

	return nil
}

// sanitizeForJSON recursively cleans infinite and NaN values from any data structure
func sanitizeForJSON(data any) any {
	switch v := data.(type) {
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return 0.0
		}
		return v
	case map[string]any:
		result := make(map[string]any)
		for k, val := range v {
			result[k] = sanitizeForJSON(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = sanitizeForJSON(val)
		}
		return result
	case []float64:
		result := make([]float64, len(v))
		for i, val := range v {
			if !math.IsInf(val, 0) && !math.IsNaN(val) {
				result[i] = val
			}
		}
		return result
	default:
		return sanitizeWithReflection(data)
	}
}

// sanitizeWithReflection uses reflection to sanitize struct fields
func sanitizeWithReflection(data any) any {
	if data == nil {
		return nil
	}

	val := reflect.ValueOf(data)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Struct:
		result := make(map[string]any)
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := val.Field(i)
			fieldType := typ.Field(i)

			// Skip unexported fields
			if !field.CanInterface() {
				continue
			}

			fieldName := fieldType.Name
			if jsonTag := fieldType.Tag.Get("json"); jsonTag != "" && jsonTag != "-" {
				if name := strings.Split(jsonTag, ",")[0]; name != "" {
					fieldName = name
				}
			}

			result[fieldName] = sanitizeForJSON(field.Interface())
		}
		return result
	case reflect.Slice, reflect.Array:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = sanitizeForJSON(val.Index(i).Interface())
		}
		return result
	case reflect.Map:
		result := make(map[string]any)
		for _, key := range val.MapKeys() {
			result[fmt.Sprintf("%v", key.Interface())] = sanitizeForJSON(val.MapIndex(key).Interface())
		}
		return result
	case reflect.Float64, reflect.Float32:
		f := val.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0.0
		}
		return f
	default:
		return val.Interface()
	}
}
