package extractors

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/bridge"
)

// Builder constructs one backend
type Builder func(ctx context.Context, cfg *Config) (Extractor, error)

// autoChain is the priority order tried for BackendAuto
var autoChain = []common.BackendType{
	common.BackendExternal,
	common.BackendInterpreter,
	common.BackendAnalytic,
}

// Factory builds extractors and applies the fallback policy. Constructors
// never fall back on their own; every substitution happens here.
type Factory struct {
	builders map[common.BackendType]Builder
	cfg      *Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewFactory creates a factory with every compiled-in backend registered
func NewFactory(cfg *Config) *Factory {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	f := &Factory{
		builders: make(map[common.BackendType]Builder),
		cfg:      cfg,
		logger:   logger.WithFields(logging.Fields{"component": "extractor_factory"}),
	}

	f.RegisterBuilder(common.BackendAnalytic, func(_ context.Context, c *Config) (Extractor, error) {
		return NewAnalyticExtractor(c)
	})
	if nativeAvailable {
		f.RegisterBuilder(common.BackendNative, func(_ context.Context, c *Config) (Extractor, error) {
			return newNativeExtractor(c)
		})
	}
	f.RegisterBuilder(common.BackendInterpreter, func(_ context.Context, c *Config) (Extractor, error) {
		return NewInterpreterExtractor(c)
	})
	f.RegisterBuilder(common.BackendExternal, func(ctx context.Context, c *Config) (Extractor, error) {
		return NewExternalExtractor(ctx, c)
	})

	return f
}

// RegisterBuilder installs or replaces the builder for a backend
func (f *Factory) RegisterBuilder(backend common.BackendType, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[backend] = builder
}

// SupportedTypes returns the backends with a registered builder
func (f *Factory) SupportedTypes() []common.BackendType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]common.BackendType, 0, len(f.builders))
	for _, t := range common.AllBackends {
		if _, ok := f.builders[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Chain returns the backends tried, in order, for a request. Auto always
// walks the full priority list; an explicit request only continues past
// its own backend when fallback is enabled.
func (f *Factory) Chain(requested common.BackendType) []common.BackendType {
	switch requested {
	case common.BackendAuto:
		return append([]common.BackendType(nil), autoChain...)
	case common.BackendNone:
		return nil
	}

	if !f.cfg.Fallback {
		return []common.BackendType{requested}
	}

	switch requested {
	case common.BackendExternal:
		return []common.BackendType{common.BackendExternal, common.BackendInterpreter, common.BackendAnalytic}
	case common.BackendInterpreter:
		return []common.BackendType{common.BackendInterpreter, common.BackendAnalytic}
	case common.BackendNative:
		return []common.BackendType{common.BackendNative, common.BackendAnalytic}
	}
	return []common.BackendType{requested}
}

// Create builds the first backend of Chain(requested) that constructs
// successfully. It returns an error only when none did.
func (f *Factory) Create(ctx context.Context, requested common.BackendType) (Extractor, error) {
	var lastErr error

	for _, backend := range f.Chain(requested) {
		f.mu.RLock()
		builder, ok := f.builders[backend]
		f.mu.RUnlock()

		if !ok {
			lastErr = common.NewAudioError(backend, common.ErrCodeUnsupportedBackend,
				"backend not available in this build", nil)
			continue
		}

		extractor, err := f.build(ctx, backend, builder)
		if err == nil {
			if backend != requested {
				f.logger.Info("Using fallback extractor", logging.Fields{
					"requested": string(requested),
					"backend":   string(backend),
				})
			}
			return extractor, nil
		}

		lastErr = err
		f.logger.Warn("Extractor construction failed", logging.Fields{
			"backend": string(backend),
			"code":    common.Code(err),
			"error":   err.Error(),
		})
	}

	return nil, common.NewAudioError(common.BackendNone, common.ErrCodeUnsupportedBackend,
		fmt.Sprintf("no extractor available for %s", requested), lastErr)
}

// build runs one builder, turning a panic into a construction error
func (f *Factory) build(ctx context.Context, backend common.BackendType, builder Builder) (ext Extractor, err error) {
	defer func() {
		if r := recover(); r != nil {
			ext = nil
			err = common.NewAudioError(backend, common.ErrCodeSpawnFailure,
				fmt.Sprintf("backend construction panicked: %v", r), nil)
		}
	}()

	ext, err = builder(ctx, f.cfg)
	if err == nil && ext == nil {
		err = common.NewAudioError(backend, common.ErrCodeSpawnFailure, "builder returned no extractor", nil)
	}
	return ext, err
}

// IsAvailable reports whether a backend could plausibly be built without
// actually starting it.
func (f *Factory) IsAvailable(backend common.BackendType) bool {
	f.mu.RLock()
	_, registered := f.builders[backend]
	f.mu.RUnlock()
	if !registered {
		return false
	}

	if backend == common.BackendExternal {
		if f.cfg.Bridge != nil && f.cfg.Bridge.ExecutablePath != "" {
			info, err := os.Stat(f.cfg.Bridge.ExecutablePath)
			return err == nil && info.Mode().IsRegular()
		}
		_, err := bridge.DefaultLocator().Find()
		return err == nil
	}
	return true
}

// Available lists the backends IsAvailable reports true for
func (f *Factory) Available() []common.BackendType {
	var out []common.BackendType
	for _, t := range f.SupportedTypes() {
		if f.IsAvailable(t) {
			out = append(out, t)
		}
	}
	return out
}

// PreferredBackend is the first available backend of the auto chain
func (f *Factory) PreferredBackend() common.BackendType {
	for _, t := range autoChain {
		if f.IsAvailable(t) {
			return t
		}
	}
	return common.BackendNone
}
