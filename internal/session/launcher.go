package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running engine. The runner waits for it, interrupts it and,
// if the grace period runs out, kills it.
type Process interface {
	// Wait blocks until the process exits and returns its exit error.
	Wait() error

	// Signal sends an OS signal to the process.
	Signal(sig os.Signal) error

	// Kill forcibly terminates the process.
	Kill() error

	// Pid returns the OS process id, or 0 when unknown.
	Pid() int
}

// LaunchSpec is what a Launcher needs to spawn the engine.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string

	// Env is appended to the current environment.
	Env []string
}

// Launcher spawns the engine. The returned reader yields stdout and stderr
// interleaved in one stream; it reaches EOF once the process and every
// descendant holding the stream have exited.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, io.ReadCloser, error)
}

// ExecLauncher starts the engine as a child process.
type ExecLauncher struct{}

// Launch implements Launcher. Both standard streams are attached to the
// write end of one pipe, so lines keep the order the engine wrote them in.
func (ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, io.ReadCloser, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create output pipe: %w", err)
	}

	// Not CommandContext: lifetime is managed by the runner's interrupt
	// and kill sequence, not by ctx.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := ctx.Err(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	// The child holds its own copy; ours must go so the reader sees EOF.
	pw.Close()

	return &execProcess{cmd: cmd}, pr, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}
