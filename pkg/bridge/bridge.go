package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/latency-benchmark-common/logging"
	"github.com/google/uuid"
	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

// Config controls how the peer is located, launched and talked to
type Config struct {
	ExecutablePath   string        `json:"executable_path"`
	Args             []string      `json:"args"`
	Env              []string      `json:"env"`
	Codec            string        `json:"codec"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout"`
	MaxFrameSize     int           `json:"max_frame_size"`
}

// DefaultConfig returns the settings used by the shipped peer
func DefaultConfig() *Config {
	return &Config{
		Args:             []string{"--daemon"},
		Codec:            "json",
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      5 * time.Second,
		ShutdownTimeout:  3 * time.Second,
		MaxFrameSize:     MaxFrameSize,
	}
}

// SessionInfo describes the current peer session
type SessionInfo struct {
	SessionID  string `json:"session_id"`
	PID        int    `json:"pid"`
	Executable string `json:"executable"`
	State      string `json:"state"`
	Codec      string `json:"codec"`
}

// Bridge owns one peer process. Calls are serialized by mu; the state is
// additionally kept in an atomic so State never blocks behind a call.
type Bridge struct {
	mu      sync.Mutex
	state   atomic.Int32
	cfg     Config
	codec   Codec
	spawn   Spawner
	locator Locator
	logger  logging.Logger

	proc       Process
	sessionID  string
	executable string
}

// Option customizes a Bridge
type Option func(*Bridge)

// WithSpawner replaces the OS process launcher
func WithSpawner(s Spawner) Option {
	return func(b *Bridge) { b.spawn = s }
}

// WithLocator replaces executable discovery
func WithLocator(l Locator) Option {
	return func(b *Bridge) { b.locator = l }
}

// WithLogger sets the bridge logger
func WithLogger(l logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a bridge in the NotStarted state. Zero config fields take
// their DefaultConfig values.
func New(cfg *Config, opts ...Option) (*Bridge, error) {
	c := *DefaultConfig()
	if cfg != nil {
		c.ExecutablePath = cfg.ExecutablePath
		c.Env = cfg.Env
		if cfg.Args != nil {
			c.Args = cfg.Args
		}
		if cfg.Codec != "" {
			c.Codec = cfg.Codec
		}
		if cfg.HandshakeTimeout > 0 {
			c.HandshakeTimeout = cfg.HandshakeTimeout
		}
		if cfg.ReadTimeout > 0 {
			c.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.ShutdownTimeout > 0 {
			c.ShutdownTimeout = cfg.ShutdownTimeout
		}
		if cfg.MaxFrameSize > 0 && cfg.MaxFrameSize <= MaxFrameSize {
			c.MaxFrameSize = cfg.MaxFrameSize
		}
	}

	codec, err := CodecByName(c.Codec)
	if err != nil {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeInvalidInput,
			"invalid bridge codec", err)
	}

	b := &Bridge{
		cfg:     c,
		codec:   codec,
		spawn:   ExecSpawner,
		locator: DefaultLocator(),
		logger:  logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithFields(logging.Fields{
		"component": "external_bridge",
		"codec":     codec.Name(),
	})
	b.state.Store(int32(StateNotStarted))
	return b, nil
}

// State returns the current lifecycle state
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.logger.Debug("Bridge state changed", logging.Fields{
			"from":       old.String(),
			"to":         s.String(),
			"session_id": b.sessionID,
		})
	}
}

// Info returns a snapshot of the session
func (b *Bridge) Info() SessionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := SessionInfo{
		SessionID:  b.sessionID,
		Executable: b.executable,
		State:      b.State().String(),
		Codec:      b.codec.Name(),
	}
	if b.proc != nil {
		info.PID = b.proc.Pid()
	}
	return info
}

func (b *Bridge) resolveExecutable() (string, error) {
	if b.cfg.ExecutablePath != "" {
		if !isRegularFile(b.cfg.ExecutablePath) {
			return "", common.NewAudioError(common.BackendExternal, common.ErrCodeNotFound,
				fmt.Sprintf("configured extractor %s does not exist", b.cfg.ExecutablePath), nil)
		}
		return b.cfg.ExecutablePath, nil
	}
	return b.locator.Find()
}

// Start launches the peer and waits for its ready message. It is a no-op
// when the session is already Ready.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked(ctx)
}

func (b *Bridge) startLocked(ctx context.Context) error {
	state := b.State()
	if state == StateReady {
		return nil
	}
	if !state.CanStart() {
		return common.NewAudioError(common.BackendExternal, common.ErrCodeNotReady,
			fmt.Sprintf("cannot start bridge in state %s", state), nil)
	}

	b.sessionID = uuid.NewString()
	b.setState(StateStarting)

	path, err := b.resolveExecutable()
	if err != nil {
		b.setState(StateFailed)
		return err
	}
	b.executable = path

	logger := b.logger.WithFields(logging.Fields{
		"session_id": b.sessionID,
		"executable": path,
	})
	// The peer speaks JSON unless told otherwise
	args := b.cfg.Args
	if b.codec.Name() != (JSONCodec{}).Name() {
		args = append(append([]string{}, args...), "--codec="+b.codec.Name())
	}
	logger.Debug("Spawning external extractor", logging.Fields{"args": args})

	proc, err := b.spawn(path, args, b.cfg.Env)
	if err != nil {
		b.setState(StateFailed)
		return common.NewAudioError(common.BackendExternal, common.ErrCodeSpawnFailure,
			fmt.Sprintf("failed to spawn %s", path), err)
	}
	b.proc = proc

	if err := b.handshakeLocked(ctx); err != nil {
		b.failLocked(err)
		return err
	}

	b.setState(StateReady)
	logger.Info("External extractor ready", logging.Fields{"pid": proc.Pid()})
	return nil
}

func (b *Bridge) handshakeLocked(ctx context.Context) error {
	payload, err := b.receiveLocked(ctx, b.cfg.HandshakeTimeout)
	if err != nil {
		return common.NewAudioError(common.BackendExternal, common.ErrCodeHandshakeFailure,
			"no ready message from extractor", err)
	}

	var resp Response
	if err := b.codec.Unmarshal(payload, &resp); err != nil {
		return common.NewAudioError(common.BackendExternal, common.ErrCodeHandshakeFailure,
			"malformed ready message", err)
	}
	if resp.Status != StatusReady {
		return common.NewAudioError(common.BackendExternal, common.ErrCodeHandshakeFailure,
			fmt.Sprintf("expected status %q, got %q", StatusReady, resp.Status), nil)
	}

	b.logger.Debug("Handshake complete", logging.Fields{"peer_version": resp.Version})
	return nil
}

type frameResult struct {
	payload []byte
	err     error
}

// receiveLocked reads one frame, giving up after timeout. A timed-out read
// leaves the reader goroutine blocked until the caller fails the session,
// which closes the stream under it.
func (b *Bridge) receiveLocked(ctx context.Context, timeout time.Duration) ([]byte, error) {
	proc := b.proc
	maxSize := b.cfg.MaxFrameSize

	ch := make(chan frameResult, 1)
	go func() {
		payload, err := ReadFrame(proc, maxSize)
		ch <- frameResult{payload: payload, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil && !common.IsCode(r.err, common.ErrCodeProtocolCorruption) {
			return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeIO,
				"failed to read frame", r.err)
		}
		return r.payload, r.err
	case <-timer.C:
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeTimeout,
			fmt.Sprintf("no frame within %s", timeout), nil)
	case <-ctx.Done():
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeTimeout,
			"context done while waiting for frame", ctx.Err())
	}
}

// failLocked moves the session to Failed and releases the process
func (b *Bridge) failLocked(cause error) {
	b.logger.Warn("External extractor session failed", logging.Fields{
		"session_id": b.sessionID,
		"error":      cause.Error(),
	})
	b.setState(StateFailed)
	b.releaseLocked()
}

func (b *Bridge) releaseLocked() {
	proc := b.proc
	b.proc = nil
	if proc == nil {
		return
	}
	proc.Close()
	proc.Kill()
	go proc.Wait()
}

// Extract sends one block to the peer and returns its 17 features.
// Transport faults and timeouts fail the session; peer-reported errors,
// undecodable responses and wrong feature counts leave it Ready. A
// non-positive sample rate is rejected without contacting the peer.
func (b *Bridge) Extract(samples []float32, sampleRate int) ([]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state := b.State(); state != StateReady {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeNotReady,
			fmt.Sprintf("bridge is %s", state), nil)
	}
	if sampleRate <= 0 {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeInvalidInput,
			fmt.Sprintf("invalid sample rate %d", sampleRate), nil)
	}

	payload, err := b.codec.Marshal(NewExtractRequest(samples, sampleRate))
	if err != nil {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeInvalidInput,
			"failed to encode request", err)
	}
	if len(payload) > b.cfg.MaxFrameSize {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeProtocolCorruption,
			fmt.Sprintf("request of %d bytes exceeds frame limit", len(payload)), nil)
	}

	b.setState(StateProcessing)

	if err := WriteFrame(b.proc, payload); err != nil {
		err = common.NewAudioError(common.BackendExternal, common.ErrCodeIO, "failed to write request", err)
		b.failLocked(err)
		return nil, err
	}

	raw, err := b.receiveLocked(context.Background(), b.cfg.ReadTimeout)
	if err != nil {
		b.failLocked(err)
		return nil, err
	}

	b.setState(StateReady)

	var resp Response
	if err := b.codec.Unmarshal(raw, &resp); err != nil {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeProtocolCorruption,
			"malformed response", err)
	}
	if resp.Status != StatusSuccess {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeSoftExtractionFailure,
			fmt.Sprintf("extractor reported %q: %s", resp.Status, resp.Message), nil)
	}
	if len(resp.Features) != common.FeatureVectorSize {
		return nil, common.NewAudioError(common.BackendExternal, common.ErrCodeDimensionMismatch,
			fmt.Sprintf("extractor returned %d features, expected %d", len(resp.Features), common.FeatureVectorSize), nil)
	}
	return resp.Features, nil
}

// Stop asks the peer to exit, closes the streams and waits for the process,
// killing it after ShutdownTimeout.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopLocked()
}

func (b *Bridge) stopLocked() error {
	state := b.State()
	if state == StateNotStarted || state == StateStopped {
		return nil
	}

	proc := b.proc
	b.proc = nil
	b.setState(StateStopped)
	if proc == nil {
		return nil
	}

	if payload, err := b.codec.Marshal(Request{Command: CommandExit}); err == nil {
		sent := make(chan error, 1)
		go func() { sent <- WriteFrame(proc, payload) }()

		timer := time.NewTimer(b.cfg.ShutdownTimeout)
		select {
		case err := <-sent:
			if err != nil {
				b.logger.Debug("Failed to send exit command", logging.Fields{"error": err.Error()})
			}
		case <-timer.C:
			b.logger.Debug("Exit command not accepted in time")
		}
		timer.Stop()
	}
	// Closing unblocks a stuck exit write as well.
	proc.Close()

	killed, err := waitTimeout(proc, b.cfg.ShutdownTimeout)
	if killed {
		b.logger.Warn("External extractor did not exit in time, killed", logging.Fields{
			"session_id": b.sessionID,
			"timeout":    b.cfg.ShutdownTimeout.String(),
		})
	}
	if err != nil {
		b.logger.Debug("External extractor exit status", logging.Fields{"status": err.Error()})
	}
	return nil
}

// Restart stops any running session and starts a new one
func (b *Bridge) Restart(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.stopLocked(); err != nil {
		b.logger.Debug("Stop before restart failed", logging.Fields{"error": err.Error()})
	}
	return b.startLocked(ctx)
}
