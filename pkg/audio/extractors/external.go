package extractors

import (
	"context"
	"strconv"
	"strings"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/bridge"
)

// ExternalExtractor delegates to the peer process through a Bridge. A
// failed session is restarted lazily on the next call.
type ExternalExtractor struct {
	sliceExtractor
	bridge *bridge.Bridge
	logger logging.Logger
}

// NewExternalExtractor starts the peer and waits for its handshake
func NewExternalExtractor(ctx context.Context, cfg *Config) (*ExternalExtractor, error) {
	cfg = cfg.withDefaults()
	logger := cfg.logger(common.BackendExternal)

	bridgeCfg := *cfg.Bridge
	bridgeCfg.Args = peerArgs(cfg)

	opts := append([]bridge.Option{bridge.WithLogger(logger)}, cfg.BridgeOptions...)
	b, err := bridge.New(&bridgeCfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		return nil, err
	}

	ee := &ExternalExtractor{bridge: b, logger: logger}
	ee.sliceExtractor = sliceExtractor{extract: ee.Extract}
	return ee, nil
}

// peerArgs passes the extraction settings on to the peer unless the
// configured arguments already set them
func peerArgs(cfg *Config) []string {
	args := append([]string(nil), cfg.Bridge.Args...)
	settings := []struct {
		flag  string
		value string
	}{
		{"--fft-size", strconv.Itoa(cfg.FFTSize)},
		{"--mel-filters", strconv.Itoa(cfg.NumMelFilters)},
		{"--rolloff", strconv.FormatFloat(cfg.RolloffThreshold, 'g', -1, 64)},
	}
	for _, s := range settings {
		if !hasFlag(cfg.Bridge.Args, s.flag) {
			args = append(args, s.flag+"="+s.value)
		}
	}
	return args
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

func (ee *ExternalExtractor) Backend() common.BackendType { return common.BackendExternal }

// Session exposes the bridge's session details
func (ee *ExternalExtractor) Session() bridge.SessionInfo {
	return ee.bridge.Info()
}

func (ee *ExternalExtractor) ensureRunning() bool {
	state := ee.bridge.State()
	switch state {
	case bridge.StateNotStarted, bridge.StateStopped:
		// Closed on purpose.
		return false
	case bridge.StateReady, bridge.StateProcessing, bridge.StateStarting:
		// Busy sessions are waited for inside Bridge.Extract.
		return true
	}

	ee.logger.Info("Restarting external extractor", logging.Fields{"state": state.String()})
	if err := ee.bridge.Start(context.Background()); err != nil {
		ee.logger.Error(err, "Failed to restart external extractor")
		return false
	}
	return true
}

func (ee *ExternalExtractor) Extract(signal []float32, sampleRate int) common.FeatureVector {
	var fv common.FeatureVector
	if !ee.ensureRunning() {
		return fv
	}

	features, err := ee.bridge.Extract(signal, sampleRate)
	if err != nil {
		ee.logger.Warn("External extraction failed, returning zero features", logging.Fields{
			"code":  common.Code(err),
			"error": err.Error(),
			"state": ee.bridge.State().String(),
		})
		return fv
	}

	fv, err = common.FeatureVectorFromSlice(features)
	if err != nil {
		ee.logger.Warn("External extractor returned a malformed vector", logging.Fields{
			"error": err.Error(),
		})
		return common.FeatureVector{}
	}
	return fv
}

// Close stops the peer process
func (ee *ExternalExtractor) Close() error {
	return ee.bridge.Stop()
}
