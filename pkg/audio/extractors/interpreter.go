package extractors

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/analyzers"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	lua "github.com/yuin/gopher-lua"
)

//go:embed scripts/features.lua
var featuresScript string

const luaEntryPoint = "extract_features_vector"

// The interpreter is process-global. interpreterMu is held for the whole of
// every call into it, across all InterpreterExtractor instances, so only one
// instance is meaningfully usable at a time.
var (
	interpreterMu sync.Mutex
	luaState      *lua.LState
	luaEngines    map[int]*analyzers.SpectrumEngine
)

// InterpreterExtractor runs the embedded Lua feature script
type InterpreterExtractor struct {
	sliceExtractor
	fftSize int
	hopSize int
	numMels int
	rolloff float64
	logger  logging.Logger
}

// NewInterpreterExtractor initializes the shared interpreter on first use
func NewInterpreterExtractor(cfg *Config) (*InterpreterExtractor, error) {
	cfg = cfg.withDefaults()
	if !analyzers.IsPowerOfTwo(cfg.FFTSize) || cfg.FFTSize < 2 {
		return nil, common.NewAudioError(common.BackendInterpreter, common.ErrCodeInvalidInput,
			"fft size must be a power of two", nil)
	}

	interpreterMu.Lock()
	defer interpreterMu.Unlock()

	if err := initInterpreterLocked(); err != nil {
		return nil, err
	}

	ie := &InterpreterExtractor{
		fftSize: cfg.FFTSize,
		hopSize: cfg.HopSize,
		numMels: cfg.NumMelFilters,
		rolloff: cfg.RolloffThreshold,
		logger:  cfg.logger(common.BackendInterpreter),
	}
	ie.sliceExtractor = sliceExtractor{extract: ie.Extract}
	return ie, nil
}

func initInterpreterLocked() error {
	if luaState != nil {
		return nil
	}

	L := lua.NewState()
	L.PreloadModule("dsp", loadDSPModule)
	if err := L.DoString(featuresScript); err != nil {
		L.Close()
		return common.NewAudioError(common.BackendInterpreter, common.ErrCodeSpawnFailure,
			"failed to load feature script", err)
	}
	if L.GetGlobal(luaEntryPoint).Type() != lua.LTFunction {
		L.Close()
		return common.NewAudioError(common.BackendInterpreter, common.ErrCodeSpawnFailure,
			fmt.Sprintf("feature script does not define %s", luaEntryPoint), nil)
	}

	luaState = L
	luaEngines = make(map[int]*analyzers.SpectrumEngine)
	return nil
}

// ShutdownInterpreter releases the shared interpreter. Extractors created
// before the call return zero vectors afterwards.
func ShutdownInterpreter() {
	interpreterMu.Lock()
	defer interpreterMu.Unlock()

	if luaState != nil {
		luaState.Close()
		luaState = nil
		luaEngines = nil
	}
}

func loadDSPModule(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"power_spectrum": luaPowerSpectrum,
	})
	L.Push(mod)
	return 1
}

// luaPowerSpectrum implements dsp.power_spectrum(samples, start, fft_size).
// It only runs inside a call holding interpreterMu.
func luaPowerSpectrum(L *lua.LState) int {
	samples := L.CheckTable(1)
	start := L.CheckInt(2)
	size := L.CheckInt(3)

	engine, ok := luaEngines[size]
	if !ok {
		var err error
		engine, err = analyzers.NewSpectrumEngine(size)
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		luaEngines[size] = engine
	}

	frame := make([]float32, size)
	for i := range frame {
		if v, ok := samples.RawGetInt(start + i).(lua.LNumber); ok {
			frame[i] = float32(v)
		}
	}

	ps := engine.ComputePowerSpectrum(frame)
	out := L.CreateTable(len(ps), 0)
	for i, p := range ps {
		out.RawSetInt(i+1, lua.LNumber(p))
	}
	L.Push(out)
	return 1
}

func (ie *InterpreterExtractor) Backend() common.BackendType { return common.BackendInterpreter }

func (ie *InterpreterExtractor) Extract(signal []float32, sampleRate int) common.FeatureVector {
	var fv common.FeatureVector
	if sampleRate <= 0 {
		ie.logger.Warn("Invalid sample rate, returning zero features", logging.Fields{
			"sample_rate": sampleRate,
		})
		return fv
	}

	interpreterMu.Lock()
	defer interpreterMu.Unlock()

	L := luaState
	if L == nil {
		ie.logger.Warn("Interpreter has been shut down, returning zero features")
		return fv
	}

	samples := L.CreateTable(len(signal), 0)
	for i, s := range signal {
		samples.RawSetInt(i+1, lua.LNumber(s))
	}

	err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal(luaEntryPoint),
		NRet:    2,
		Protect: true,
	}, samples,
		lua.LNumber(sampleRate),
		lua.LNumber(ie.fftSize),
		lua.LNumber(ie.hopSize),
		lua.LNumber(ie.numMels),
		lua.LNumber(common.NumMFCC),
		lua.LNumber(ie.rolloff),
	)
	if err != nil {
		ie.logger.Error(err, "Feature script failed")
		return fv
	}

	ret, msg := L.Get(-2), L.Get(-1)
	L.Pop(2)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		ie.logger.Warn("Feature script returned no vector", logging.Fields{
			"message": lua.LVAsString(msg),
		})
		return fv
	}
	if tbl.Len() != common.FeatureVectorSize {
		ie.logger.Warn("Feature script returned wrong vector length", logging.Fields{
			"expected": common.FeatureVectorSize,
			"got":      tbl.Len(),
		})
		return fv
	}

	for i := range fv {
		if n, ok := tbl.RawGetInt(i + 1).(lua.LNumber); ok {
			fv[i] = float64(n)
		}
	}
	return fv.Sanitize()
}

func (ie *InterpreterExtractor) RMS(signal []float32) float64 {
	return analyzers.RMS(signal)
}

// Close is a no-op: the interpreter outlives individual extractors.
func (ie *InterpreterExtractor) Close() error { return nil }
