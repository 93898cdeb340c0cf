package bridge

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vaclisinc/VTR-plugin-sub000/pkg/audio/common"
)

const helperEnv = "VTR_BRIDGE_TEST_PEER"

// TestMain doubles as the peer executable when re-launched by the exec
// tests below.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "json":
		Serve(os.Stdin, os.Stdout, JSONCodec{}, echoExtract)
		os.Exit(0)
	case "msgpack":
		Serve(os.Stdin, os.Stdout, MsgpackCodec{}, echoExtract)
		os.Exit(0)
	case "silent":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "stubborn":
		// Ready, then deaf to everything including exit.
		WriteFrame(os.Stdout, mustMarshal(JSONCodec{}, Response{Status: StatusReady, Version: ProtocolVersion}))
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type BridgeTestSuite struct {
	suite.Suite
	exe string
}

func (s *BridgeTestSuite) SetupSuite() {
	// Any regular file satisfies discovery; the spawner is faked.
	s.exe = filepath.Join(s.T().TempDir(), ExecutableBaseName)
	s.Require().NoError(os.WriteFile(s.exe, []byte("#!/bin/sh\n"), 0o755))
}

func (s *BridgeTestSuite) newBridge(spawner *pipeSpawner, cfg *Config) *Bridge {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ExecutablePath = s.exe
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}
	cfg.ShutdownTimeout = 500 * time.Millisecond

	b, err := New(cfg, WithSpawner(spawner.spawn))
	s.Require().NoError(err)
	return b
}

func (s *BridgeTestSuite) TestLifecycle() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{})}
	b := s.newBridge(spawner, nil)
	s.Equal(StateNotStarted, b.State())

	s.Require().NoError(b.Start(context.Background()))
	s.Equal(StateReady, b.State())

	info := b.Info()
	s.NotEmpty(info.SessionID)
	s.Equal(4242, info.PID)
	s.Equal("ready", info.State)

	samples := []float32{0.25, -0.5, 0.75}
	features, err := b.Extract(samples, 48000)
	s.Require().NoError(err)
	s.Len(features, common.FeatureVectorSize)
	s.Equal(3.0, features[0])
	s.Equal(48000.0, features[1])
	s.Equal(0.25, features[2])
	s.Equal(StateReady, b.State())

	// Start on a ready bridge is a no-op.
	s.NoError(b.Start(context.Background()))
	s.Len(spawner.procs, 1)

	s.NoError(b.Stop())
	s.Equal(StateStopped, b.State())
	s.True(spawner.last().closed.Load())

	_, err = b.Extract(samples, 48000)
	s.True(common.IsCode(err, common.ErrCodeNotReady))
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestMsgpackCodec() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, MsgpackCodec{})}
	b := s.newBridge(spawner, &Config{Codec: "msgpack"})

	s.Require().NoError(b.Start(context.Background()))
	features, err := b.Extract([]float32{1, 2}, 22050)
	s.Require().NoError(err)
	s.Equal(22050.0, features[1])
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestSoftFailureKeepsSessionReady() {
	calls := 0
	extract := func(samples []float32, sr int) ([]float64, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("analysis exploded")
		}
		return echoExtract(samples, sr)
	}
	spawner := &pipeSpawner{peer: servePeer(extract, JSONCodec{})}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	_, err := b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeSoftExtractionFailure))
	s.Contains(err.Error(), "analysis exploded")
	s.Equal(StateReady, b.State())

	features, err := b.Extract([]float32{1}, 44100)
	s.NoError(err)
	s.Len(features, 17)
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestEmptyAudioIsSoftFailure() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{})}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	_, err := b.Extract(nil, 44100)
	s.True(common.IsCode(err, common.ErrCodeSoftExtractionFailure))
	s.Contains(err.Error(), "Empty audio data")
	s.Equal(StateReady, b.State())
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestInvalidSampleRateNotSent() {
	received := make(chan Request, 8)
	spawner := &pipeSpawner{peer: recordingPeer(JSONCodec{}, received)}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	for _, sr := range []int{0, -8000} {
		_, err := b.Extract([]float32{1}, sr)
		s.True(common.IsCode(err, common.ErrCodeInvalidInput), "sr=%d", sr)
		s.Equal(StateReady, b.State())
	}

	features, err := b.Extract([]float32{1}, 8000)
	s.Require().NoError(err)
	s.Equal(8000.0, features[1])

	req := <-received
	s.Equal(CommandExtract, req.Command)
	s.Require().NotNil(req.SR)
	s.Equal(8000, *req.SR)
	s.Empty(received)
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestStopSendsExit() {
	received := make(chan Request, 8)
	spawner := &pipeSpawner{peer: recordingPeer(JSONCodec{}, received)}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	start := time.Now()
	s.NoError(b.Stop())
	s.Less(time.Since(start), 500*time.Millisecond)
	s.Equal(StateStopped, b.State())

	select {
	case req := <-received:
		s.Equal(CommandExit, req.Command)
	case <-time.After(time.Second):
		s.Fail("peer never received the exit command")
	}

	proc := spawner.last()
	s.True(proc.closed.Load())
	s.False(proc.killed.Load())
}

func (s *BridgeTestSuite) TestDimensionMismatch() {
	codec := JSONCodec{}
	short := framed(mustMarshal(codec, Response{Status: StatusSuccess, Features: []float64{1, 2, 3}}))
	good := framed(mustMarshal(codec, Response{Status: StatusSuccess, Features: make([]float64, 17)}))
	spawner := &pipeSpawner{peer: scriptedPeer(codec, short, good)}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	_, err := b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeDimensionMismatch))
	s.Equal(StateReady, b.State())

	_, err = b.Extract([]float32{1}, 44100)
	s.NoError(err)
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestMalformedResponseKeepsSessionReady() {
	codec := JSONCodec{}
	good := framed(mustMarshal(codec, Response{Status: StatusSuccess, Features: make([]float64, 17)}))
	spawner := &pipeSpawner{peer: scriptedPeer(codec, framed([]byte("{not json")), good)}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	_, err := b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeProtocolCorruption))
	s.Equal(StateReady, b.State())

	_, err = b.Extract([]float32{1}, 44100)
	s.NoError(err)
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestOversizedResponseFailsSession() {
	header := []byte{0, 0, 0xB0, 0} // 11 MiB
	spawner := &pipeSpawner{peer: scriptedPeer(JSONCodec{}, header)}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	_, err := b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeProtocolCorruption))
	s.Equal(StateFailed, b.State())
	s.True(spawner.last().killed.Load())
}

func (s *BridgeTestSuite) TestReadTimeoutFailsSession() {
	spawner := &pipeSpawner{peer: scriptedPeer(JSONCodec{}, nil)}
	b := s.newBridge(spawner, &Config{ReadTimeout: 50 * time.Millisecond})
	s.Require().NoError(b.Start(context.Background()))

	start := time.Now()
	_, err := b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeTimeout))
	s.Less(time.Since(start), 2*time.Second)
	s.Equal(StateFailed, b.State())
	s.True(spawner.last().killed.Load())

	_, err = b.Extract([]float32{1}, 44100)
	s.True(common.IsCode(err, common.ErrCodeNotReady))
}

func (s *BridgeTestSuite) TestHandshakeRejectsWrongStatus() {
	codec := JSONCodec{}
	spawner := &pipeSpawner{peer: func(r io.Reader, w io.Writer) error {
		return WriteFrame(w, mustMarshal(codec, Response{Status: StatusError, Message: "no numpy"}))
	}}
	b := s.newBridge(spawner, nil)

	err := b.Start(context.Background())
	s.True(common.IsCode(err, common.ErrCodeHandshakeFailure))
	s.Equal(StateFailed, b.State())
}

func (s *BridgeTestSuite) TestHandshakeTimeout() {
	spawner := &pipeSpawner{peer: func(r io.Reader, w io.Writer) error {
		_, err := ReadFrame(r, MaxFrameSize)
		return err
	}}
	b := s.newBridge(spawner, &Config{HandshakeTimeout: 50 * time.Millisecond})

	err := b.Start(context.Background())
	s.True(common.IsCode(err, common.ErrCodeHandshakeFailure))
	s.True(common.IsCode(err, common.ErrCodeTimeout))
	s.Equal(StateFailed, b.State())
	s.True(spawner.last().killed.Load())
}

func (s *BridgeTestSuite) TestSpawnFailureThenRestart() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{}), err: errors.New("fork: resource unavailable")}
	b := s.newBridge(spawner, nil)

	err := b.Start(context.Background())
	s.True(common.IsCode(err, common.ErrCodeSpawnFailure))
	s.Equal(StateFailed, b.State())

	spawner.err = nil
	s.Require().NoError(b.Restart(context.Background()))
	s.Equal(StateReady, b.State())

	_, err = b.Extract([]float32{0.1}, 44100)
	s.NoError(err)
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestRestartReplacesSession() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{})}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))
	first := b.Info().SessionID

	s.Require().NoError(b.Restart(context.Background()))
	s.NotEqual(first, b.Info().SessionID)
	s.Len(spawner.procs, 2)
	s.True(spawner.procs[0].closed.Load())
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestConcurrentCallsAreSerialized() {
	spawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{})}
	b := s.newBridge(spawner, nil)
	s.Require().NoError(b.Start(context.Background()))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			samples := make([]float32, n+1)
			features, err := b.Extract(samples, 44100)
			if err == nil && features[0] != float64(n+1) {
				err = errors.New("response paired with wrong request")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.NoError(b.Stop())
}

func (s *BridgeTestSuite) TestMissingExecutable() {
	b, err := New(&Config{ExecutablePath: filepath.Join(s.T().TempDir(), "missing")})
	s.Require().NoError(err)

	err = b.Start(context.Background())
	s.True(common.IsCode(err, common.ErrCodeNotFound))
	s.Equal(StateFailed, b.State())
}

func (s *BridgeTestSuite) TestPeerToldAboutCodec() {
	jsonSpawner := &pipeSpawner{peer: servePeer(echoExtract, JSONCodec{})}
	b := s.newBridge(jsonSpawner, &Config{Args: []string{"--daemon"}})
	s.Require().NoError(b.Start(context.Background()))
	s.Equal([]string{"--daemon"}, jsonSpawner.args[0])
	s.NoError(b.Stop())

	msgpackSpawner := &pipeSpawner{peer: servePeer(echoExtract, MsgpackCodec{})}
	b = s.newBridge(msgpackSpawner, &Config{Args: []string{"--daemon"}, Codec: "msgpack"})
	s.Require().NoError(b.Start(context.Background()))
	s.Equal([]string{"--daemon", "--codec=msgpack"}, msgpackSpawner.args[0])
	s.NoError(b.Stop())
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}

func TestNewRejectsUnknownCodec(t *testing.T) {
	_, err := New(&Config{Codec: "xml"})
	assert.True(t, common.IsCode(err, common.ErrCodeInvalidInput))
}

func TestWaitTimeoutKillsStubbornProcess(t *testing.T) {
	proc := newStubbornProcess()

	start := time.Now()
	killed, err := waitTimeout(proc, 50*time.Millisecond)
	assert.True(t, killed)
	assert.ErrorIs(t, err, errKilled)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	exited := newStubbornProcess()
	exited.exit()
	killed, err = waitTimeout(exited, time.Second)
	assert.False(t, killed)
	assert.NoError(t, err)
}

func TestStopBeforeStart(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	assert.NoError(t, b.Stop())
	assert.Equal(t, StateNotStarted, b.State())
}

func startHelperBridge(t *testing.T, mode string, cfg *Config) *Bridge {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)

	cfg.ExecutablePath = exe
	cfg.Args = []string{"-test.run=^$"}
	cfg.Env = []string{helperEnv + "=" + mode}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	b, err := New(cfg)
	require.NoError(t, err)
	return b
}

func TestExecPeerRoundTrip(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			b := startHelperBridge(t, codec, &Config{Codec: codec, HandshakeTimeout: 10 * time.Second})
			require.NoError(t, b.Start(context.Background()))
			assert.NotZero(t, b.Info().PID)

			features, err := b.Extract([]float32{0.5, 0.25}, 16000)
			require.NoError(t, err)
			assert.Equal(t, 2.0, features[0])
			assert.Equal(t, 16000.0, features[1])
			assert.Equal(t, 0.5, features[2])

			assert.NoError(t, b.Stop())
			assert.Equal(t, StateStopped, b.State())
		})
	}
}

func TestExecPeerHandshakeTimeoutKillsChild(t *testing.T) {
	b := startHelperBridge(t, "silent", &Config{HandshakeTimeout: 200 * time.Millisecond})

	err := b.Start(context.Background())
	assert.True(t, common.IsCode(err, common.ErrCodeHandshakeFailure))
	assert.Equal(t, StateFailed, b.State())
	assert.NoError(t, b.Stop())
	assert.Equal(t, StateStopped, b.State())
}

func TestExecPeerIgnoringExitIsKilled(t *testing.T) {
	b := startHelperBridge(t, "stubborn", &Config{
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  300 * time.Millisecond,
	})
	require.NoError(t, b.Start(context.Background()))
	pid := b.Info().PID
	require.NotZero(t, pid)

	start := time.Now()
	assert.NoError(t, b.Stop())
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, StateStopped, b.State())

	proc, err := os.FindProcess(pid)
	if err == nil {
		assert.Error(t, proc.Signal(syscall.Signal(0)), "peer still alive after Stop")
	}
}
