package bridge

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var errKilled = errors.New("killed")

// pipeProcess runs a peer function in a goroutine behind two io.Pipes
type pipeProcess struct {
	fromPeer *io.PipeReader
	toPeer   *io.PipeWriter
	peerIn   *io.PipeReader
	peerOut  *io.PipeWriter

	done      chan struct{}
	err       error
	killed    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func startPipeProcess(peer func(r io.Reader, w io.Writer) error) *pipeProcess {
	peerIn, toPeer := io.Pipe()
	fromPeer, peerOut := io.Pipe()

	p := &pipeProcess{
		fromPeer: fromPeer,
		toPeer:   toPeer,
		peerIn:   peerIn,
		peerOut:  peerOut,
		done:     make(chan struct{}),
	}
	go func() {
		p.err = peer(peerIn, peerOut)
		peerOut.Close()
		peerIn.Close()
		close(p.done)
	}()
	return p
}

func (p *pipeProcess) Read(b []byte) (int, error)  { return p.fromPeer.Read(b) }
func (p *pipeProcess) Write(b []byte) (int, error) { return p.toPeer.Write(b) }

func (p *pipeProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.toPeer.Close()
		p.fromPeer.Close()
	})
	return nil
}

func (p *pipeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *pipeProcess) Kill() error {
	p.killed.Store(true)
	p.peerIn.CloseWithError(errKilled)
	p.peerOut.CloseWithError(errKilled)
	return nil
}

func (p *pipeProcess) Pid() int { return 4242 }

// pipeSpawner hands out pipeProcesses running peer and remembers them
type pipeSpawner struct {
	mu    sync.Mutex
	peer  func(r io.Reader, w io.Writer) error
	procs []*pipeProcess
	args  [][]string
	err   error
}

func (s *pipeSpawner) spawn(path string, args, env []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := startPipeProcess(s.peer)
	s.procs = append(s.procs, p)
	s.args = append(s.args, args)
	return p, nil
}

func (s *pipeSpawner) last() *pipeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// echoExtract encodes its inputs into the feature vector so tests can check
// what reached the peer.
func echoExtract(samples []float32, sampleRate int) ([]float64, error) {
	features := make([]float64, 17)
	for i := range features {
		features[i] = float64(i)
	}
	features[0] = float64(len(samples))
	features[1] = float64(sampleRate)
	features[2] = float64(samples[0])
	return features, nil
}

func servePeer(extract ExtractFunc, codec Codec) func(r io.Reader, w io.Writer) error {
	return func(r io.Reader, w io.Writer) error {
		return Serve(r, w, codec, extract)
	}
}

// scriptedPeer sends ready and then answers each request with the next
// raw payload from replies. A nil entry means never answer.
func scriptedPeer(codec Codec, replies ...[]byte) func(r io.Reader, w io.Writer) error {
	return func(r io.Reader, w io.Writer) error {
		ready, _ := codec.Marshal(Response{Status: StatusReady, Version: ProtocolVersion})
		if err := WriteFrame(w, ready); err != nil {
			return err
		}
		for _, reply := range replies {
			if _, err := ReadFrame(r, MaxFrameSize); err != nil {
				return err
			}
			if reply == nil {
				// Block until killed or closed.
				_, err := ReadFrame(r, MaxFrameSize)
				return err
			}
			if _, err := w.Write(reply); err != nil {
				return err
			}
		}
		_, err := io.Copy(io.Discard, r)
		return err
	}
}

// recordingPeer answers like Serve with echoExtract and reports every
// decoded request on received, the exit command included.
func recordingPeer(codec Codec, received chan<- Request) func(r io.Reader, w io.Writer) error {
	return func(r io.Reader, w io.Writer) error {
		if err := WriteFrame(w, mustMarshal(codec, Response{Status: StatusReady, Version: ProtocolVersion})); err != nil {
			return err
		}
		for {
			payload, err := ReadFrame(r, MaxFrameSize)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			var req Request
			if err := codec.Unmarshal(payload, &req); err != nil {
				return err
			}
			received <- req
			if req.Command == CommandExit {
				return nil
			}
			if err := WriteFrame(w, mustMarshal(codec, handleExtract(req, echoExtract))); err != nil {
				return err
			}
		}
	}
}

// stubbornProcess never exits on its own; only Kill ends it
type stubbornProcess struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newStubbornProcess() *stubbornProcess {
	return &stubbornProcess{done: make(chan struct{})}
}

func (p *stubbornProcess) exit() { p.once.Do(func() { close(p.done) }) }

func (p *stubbornProcess) Read([]byte) (int, error)    { return 0, io.EOF }
func (p *stubbornProcess) Write(b []byte) (int, error) { return len(b), nil }
func (p *stubbornProcess) Close() error                { return nil }
func (p *stubbornProcess) Pid() int                    { return 99 }

func (p *stubbornProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *stubbornProcess) Kill() error {
	p.once.Do(func() {
		p.err = errKilled
		close(p.done)
	})
	return nil
}

func framed(payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload) >> 16)
	out[3] = byte(len(payload) >> 24)
	copy(out[HeaderSize:], payload)
	return out
}

func mustMarshal(codec Codec, v any) []byte {
	data, err := codec.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
