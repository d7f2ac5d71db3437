package engine

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StderrPolicy selects what happens to the engine's stderr.
type StderrPolicy string

const (
	// StderrMerge sends stderr into the stdout pipe so only one pipe can fill up.
	StderrMerge StderrPolicy = "merge"
	// StderrDiscard sends stderr to the null device.
	StderrDiscard StderrPolicy = "discard"
)

// LaunchConfig holds the per-worker settings of the command-line engine.
type LaunchConfig struct {
	Bin       string
	ModelPath string
	Threads   int
	CtxSize   int
	GPULayers int
	// ExtraArgs are appended after the fixed arguments.
	ExtraArgs []string
	Stderr    StderrPolicy
	// Env is appended to the parent environment.
	Env []string
}

// Launcher starts one inference subprocess per request.
type Launcher struct {
	cfg LaunchConfig
}

// NewLauncher returns a Launcher for cfg.
func NewLauncher(cfg LaunchConfig) *Launcher {
	if cfg.Stderr == "" {
		cfg.Stderr = StderrMerge
	}
	return &Launcher{cfg: cfg}
}

// Args builds the fixed-shape argument list for req.
func (l *Launcher) Args(req InferenceRequest) []string {
	args := []string{
		"-m", l.cfg.ModelPath,
		"-p", req.Prompt,
		"-n", strconv.Itoa(req.MaxUnits),
		"--temp", strconv.FormatFloat(req.Temperature, 'f', -1, 64),
	}
	if l.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.cfg.Threads))
	}
	if l.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(l.cfg.CtxSize))
	}
	if l.cfg.GPULayers != 0 {
		args = append(args, "-ngl", strconv.Itoa(l.cfg.GPULayers))
	}
	args = append(args, "--no-display-prompt")
	return append(args, l.cfg.ExtraArgs...)
}

// Launch starts the engine for req. stdin is the null device, stdout is a pipe
// whose read end belongs to the returned handle.
func (l *Launcher) Launch(req InferenceRequest) (*ProcessHandle, error) {
	bin := strings.TrimSpace(l.cfg.Bin)
	if bin == "" {
		return nil, &LaunchError{Bin: "(unset)", Err: fmt.Errorf("engine binary not configured")}
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Bin: bin, Err: err}
	}
	cmd := exec.Command(bin, l.Args(req)...)
	// A nil Stdin is the null device: reads return EOF immediately.
	cmd.Stdin = nil
	cmd.Stdout = pw
	if l.cfg.Stderr == StderrMerge {
		cmd.Stderr = pw
	}
	cmd.SysProcAttr = sysProcAttr()
	if len(l.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), l.cfg.Env...)
	}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, &LaunchError{Bin: bin, Err: err}
	}
	// The child holds its own copy; keeping ours open would mask EOF.
	_ = pw.Close()

	h := &ProcessHandle{cmd: cmd, stdout: pr, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// ProcessHandle owns a running subprocess and the read end of its output pipe.
// It is not safe to share between requests.
type ProcessHandle struct {
	cmd     *exec.Cmd
	stdout  *os.File
	pid     int
	done    chan struct{}
	waitErr error

	once       sync.Once
	killed     bool
	destroyErr error
}

// Stdout returns the output stream. Exactly one Reader may consume it.
func (h *ProcessHandle) Stdout() *os.File { return h.stdout }

// PID returns the operating system process id.
func (h *ProcessHandle) PID() int { return h.pid }

// Exited reports whether the process has been reaped.
func (h *ProcessHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// WaitExit waits up to timeout for the process to exit on its own and returns
// its exit error.
func (h *ProcessHandle) WaitExit(timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-h.done:
		return true, h.waitErr
	case <-t.C:
		return false, nil
	}
}

// Killed reports whether Destroy had to kill a live process.
func (h *ProcessHandle) Killed() bool { return h.killed }

// Destroy kills the process group if it is still running, waits up to grace
// for it to be reaped and closes the output pipe. Only the first call acts;
// later calls return the first result.
func (h *ProcessHandle) Destroy(grace time.Duration) error {
	h.once.Do(func() {
		defer h.stdout.Close()
		if h.Exited() {
			return
		}
		h.killed = true
		_ = killProcess(h.cmd.Process)
		if exited, _ := h.WaitExit(grace); !exited {
			h.destroyErr = ErrProcessHung
		}
	})
	return h.destroyErr
}
