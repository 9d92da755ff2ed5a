package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process is a running training process.
type Process interface {
	// Output is the combined stdout and stderr stream.
	Output() io.Reader
	// Terminate asks the process to exit.
	Terminate() error
	// Kill ends the process immediately.
	Kill() error
	// Wait blocks until the process exits and returns its exit error.
	// It may be called more than once.
	Wait() error
	Pid() int
}

// Launcher starts training processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// ExecLauncher starts real OS processes.
type ExecLauncher struct{}

// Launch starts cmd with stdout and stderr sharing one pipe, so lines from
// both streams arrive in the order the process wrote them.
//
// The process is not bound to ctx; the supervisor terminates it explicitly
// so it can escalate from a graceful signal to Kill.
func (ExecLauncher) Launch(_ context.Context, cmd Command) (Process, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	c.Stdout = w
	c.Stderr = w

	if err := c.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy; closing ours lets EOF arrive when it exits.
	w.Close()

	return &execProcess{cmd: c, out: r}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	once sync.Once
	err  error
}

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error {
	return ignoreDone(terminate(p.cmd.Process))
}

func (p *execProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

// Wait reaps the process, then closes the read end so a reader still
// blocked on it returns.
func (p *execProcess) Wait() error {
	p.once.Do(func() {
		p.err = p.cmd.Wait()
		p.out.Close()
	})
	return p.err
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
