package bridge

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process is a child with one byte stream in each direction
type Process interface {
	io.Reader
	io.Writer
	// Close releases both stream ends held by the parent
	Close() error
	Wait() error
	Kill() error
	Pid() int
}

// Spawner starts a Process
type Spawner func(path string, args, env []string) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
}

// ExecSpawner launches path with stdin on one pipe and stdout plus stderr on
// the other.
func ExecSpawner(path string, args, env []string) (Process, error) {
	childIn, parentIn, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	parentOut, childOut, err := os.Pipe()
	if err != nil {
		childIn.Close()
		parentIn.Close()
		return nil, err
	}

	cmd := exec.Command(path, args...)
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = childOut
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	if err := cmd.Start(); err != nil {
		childIn.Close()
		parentIn.Close()
		parentOut.Close()
		childOut.Close()
		return nil, err
	}

	// The child holds its own copies now.
	childIn.Close()
	childOut.Close()

	return &execProcess{cmd: cmd, stdin: parentIn, stdout: parentOut}, nil
}

func (p *execProcess) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *execProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *execProcess) Close() error {
	return errors.Join(p.stdin.Close(), p.stdout.Close())
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// waitTimeout waits for p to exit, killing it once timeout elapses.
// It reports whether the process had to be killed.
func waitTimeout(p Process, timeout time.Duration) (killed bool, err error) {
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return false, err
	case <-timer.C:
		if kerr := p.Kill(); kerr != nil {
			return true, kerr
		}
		return true, <-done
	}
}
