/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: executor.go
Description: Process execution harness for integer-input targets. Starts the target in its
own process group with the input on stdin and the coverage segment id in its environment,
enforces a whole-second alarm, and classifies the wait status into a Result.
*/

package execution

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Channel is the coverage side of the harness.
// It is reset before each run and advertised to the child through its environment.
type Channel interface {
	Reset()
	Env() string
}

// Config controls the harness
type Config struct {
	// ReservedExitCodes are exit codes that mean the child failed before running the target
	ReservedExitCodes []int
	// KillSignal is sent to the child process group when the alarm fires
	KillSignal syscall.Signal
}

// DefaultConfig returns the harness defaults.
// 126 and 127 are what the shell and exec paths use for "not executable" and "not found".
func DefaultConfig() Config {
	return Config{
		ReservedExitCodes: []int{126, 127},
		KillSignal:        syscall.SIGKILL,
	}
}

// Harness runs the target once per call. It is not reentrant.
type Harness struct {
	config   Config
	reserved map[int]struct{}
	channel  Channel
	logger   *logrus.Logger

	busy  atomic.Bool
	state atomic.Int32
	last  atomic.Int32

	mu    sync.Mutex
	child *os.Process
}

// NewHarness creates a harness bound to a coverage channel.
// A nil channel runs targets without coverage.
func NewHarness(channel Channel, config Config, logger *logrus.Logger) *Harness {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.KillSignal == 0 {
		config.KillSignal = syscall.SIGKILL
	}
	reserved := make(map[int]struct{}, len(config.ReservedExitCodes))
	for _, code := range config.ReservedExitCodes {
		reserved[code] = struct{}{}
	}
	return &Harness{
		config:   config,
		reserved: reserved,
		channel:  channel,
		logger:   logger,
	}
}

// State returns the current harness state
func (h *Harness) State() State {
	return State(h.state.Load())
}

// LastState returns the terminal state of the most recent execution
func (h *Harness) LastState() State {
	return State(h.last.Load())
}

// AlarmDuration converts a timeout into the whole-second alarm the harness arms.
// Non-positive timeouts disable the alarm.
func AlarmDuration(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	secs := math.Ceil(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Execute runs targetPath with input on stdin and classifies how it ended.
// Execute never panics and always returns a Result; harness failures are InternalError.
func (h *Harness) Execute(ctx context.Context, targetPath string, input int32, timeout time.Duration) *Result {
	result := &Result{Input: input}

	if !h.busy.CompareAndSwap(false, true) {
		result.Kind = InternalError
		result.Err = ErrBusy
		return result
	}
	defer h.busy.Store(false)
	defer h.setState(StateIdle)

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		h.last.Store(int32(terminalState(result.Kind)))
	}()

	if h.channel != nil {
		h.channel.Reset()
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		h.setState(StateSetupFailed)
		result.Kind = InternalError
		result.Err = fmt.Errorf("failed to create stdin pipe: %w", err)
		return result
	}
	h.setState(StatePipeCreated)

	cmd := exec.Command(targetPath)
	cmd.Stdin = stdinR
	cmd.Env = os.Environ()
	if h.channel != nil {
		cmd.Env = append(cmd.Env, h.channel.Env())
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		h.setState(StateSetupFailed)
		result.Kind = InternalError
		result.Err = fmt.Errorf("%w: %w", ErrChildSetup, err)
		return result
	}
	h.setState(StateForked)
	result.PID = cmd.Process.Pid
	h.track(cmd.Process)
	defer h.track(nil)

	// The child holds its own copy of the read end
	stdinR.Close()
	if _, err := stdinW.WriteString(strconv.FormatInt(int64(input), 10) + "\n"); err != nil {
		h.logger.WithFields(logrus.Fields{
			"input": input,
			"error": err,
		}).Debug("Target closed stdin before reading input")
	}
	stdinW.Close()

	var timedOut atomic.Bool
	alarm := make(chan struct{}, 1)
	if d := AlarmDuration(timeout); d > 0 {
		timer := time.AfterFunc(d, func() {
			timedOut.Store(true)
			select {
			case alarm <- struct{}{}:
			default:
			}
		})
		defer timer.Stop()
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	h.setState(StateParentWaiting)

	select {
	case <-done:
		h.classify(cmd.ProcessState, &timedOut, result)
	case <-alarm:
		h.kill(cmd.Process)
		<-done
		h.classifyAfterAlarm(cmd.ProcessState, result)
	case <-ctx.Done():
		h.kill(cmd.Process)
		<-done
		result.Kind = InternalError
		result.Err = fmt.Errorf("execution cancelled: %w", ctx.Err())
	}

	h.setState(terminalState(result.Kind))
	return result
}

// classify maps a wait status onto a Result
func (h *Harness) classify(state *os.ProcessState, timedOut *atomic.Bool, result *Result) {
	if state == nil {
		result.Kind = InternalError
		result.Err = ErrUnclassified
		return
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		result.Kind = InternalError
		result.Err = ErrUnclassified
		return
	}

	switch {
	case ws.Exited():
		code := ws.ExitStatus()
		result.ExitCode = code
		if _, reserved := h.reserved[code]; reserved {
			result.Kind = InternalError
			result.Err = fmt.Errorf("%w: exit code %d", ErrChildSetup, code)
			return
		}
		result.Kind = NormalExit
	case ws.Signaled():
		sig := ws.Signal()
		result.Signal = sig
		// The kill signal means a timeout even if the alarm flag was not observed
		if sig == h.config.KillSignal || timedOut.Load() {
			result.Kind = Timeout
			return
		}
		result.Kind = Crash
	default:
		result.Kind = InternalError
		result.Err = ErrUnclassified
	}
}

// classifyAfterAlarm handles a child that may have exited on its own as the alarm fired.
// Only a child stopped by the kill keeps the timeout verdict.
func (h *Harness) classifyAfterAlarm(state *os.ProcessState, result *Result) {
	if state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Exited() {
			var notTimedOut atomic.Bool
			h.classify(state, &notTimedOut, result)
			return
		}
	}
	result.Kind = Timeout
	result.Signal = h.config.KillSignal
}

// kill sends the kill signal to the child's process group, falling back to the child itself
func (h *Harness) kill(p *os.Process) {
	if p == nil {
		return
	}
	if err := unix.Kill(-p.Pid, h.config.KillSignal); err != nil {
		if err := p.Signal(h.config.KillSignal); err != nil {
			h.logger.WithFields(logrus.Fields{
				"pid":   p.Pid,
				"error": err,
			}).Debug("Failed to signal child")
		}
	}
}

// Cleanup kills the in-flight child, if any
func (h *Harness) Cleanup() error {
	h.mu.Lock()
	p := h.child
	h.mu.Unlock()
	if p != nil {
		h.logger.WithField("pid", p.Pid).Warn("Killing in-flight child process")
		h.kill(p)
	}
	return nil
}

func (h *Harness) track(p *os.Process) {
	h.mu.Lock()
	h.child = p
	h.mu.Unlock()
}

func (h *Harness) setState(s State) {
	h.state.Store(int32(s))
}
