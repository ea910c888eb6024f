package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/foxseedlab/livescribe/internal/capture"
)

const (
	readChunkBytes   = 32 * 1024
	frameChannelSize = 64
	stopGracePeriod  = 2 * time.Second
)

type CommandRecorder struct {
	lookPath   func(file string) (string, error)
	newCommand func(name string, args ...string) *exec.Cmd
}

func NewCommandRecorder() capture.Recorder {
	return &CommandRecorder{
		lookPath:   exec.LookPath,
		newCommand: exec.Command,
	}
}

func (r *CommandRecorder) Start(opts capture.Options) (capture.Recording, error) {
	inv, err := buildInvocation(opts.Program, opts.SampleRateHz, opts.AudioType, opts.Device, opts.EndOnSilence, opts.SilenceSeconds, opts.ThresholdPercent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	path, err := r.lookPath(opts.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", capture.ErrUnavailable, opts.Program, err)
	}
	cmd := r.newCommand(path, inv.args...)
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}
	slog.Info("starting recording backend", "program", opts.Program, "args", inv.args, "sample_rate_hz", opts.SampleRateHz)
	return startCommand(cmd)
}

func startCommand(cmd *exec.Cmd) (*commandRecording, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", capture.ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrUnavailable, err)
	}
	rec := &commandRecording{
		cmd:       cmd,
		frames:    make(chan []byte, frameChannelSize),
		stopped:   make(chan struct{}),
		exited:    make(chan struct{}),
		startedAt: time.Now(),
	}
	go rec.run(stdout)
	return rec, nil
}

type commandRecording struct {
	cmd       *exec.Cmd
	frames    chan []byte
	stopped   chan struct{}
	exited    chan struct{}
	stopOnce  sync.Once
	startedAt time.Time

	// emitMu orders frame sends against Stop: once halted is set no frame
	// reaches the channel.
	emitMu sync.Mutex
	halted bool

	mu  sync.Mutex
	err error
}

func (r *commandRecording) Frames() <-chan []byte {
	return r.frames
}

func (r *commandRecording) Exited() <-chan struct{} {
	return r.exited
}

func (r *commandRecording) StartedAt() time.Time {
	return r.startedAt
}

func (r *commandRecording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *commandRecording) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
		r.emitMu.Lock()
		r.halted = true
		r.emitMu.Unlock()
		p := r.cmd.Process
		if p == nil {
			return
		}
		slog.Info("stopping recording backend", "pid", p.Pid)
		if err := p.Signal(syscall.SIGTERM); err != nil {
			_ = p.Kill()
			return
		}
		go func() {
			select {
			case <-r.exited:
			case <-time.After(stopGracePeriod):
				slog.Warn("recording backend ignored SIGTERM; killing", "pid", p.Pid)
				_ = p.Kill()
			}
		}()
	})
}

func (r *commandRecording) isStopped() bool {
	select {
	case <-r.stopped:
		return true
	default:
		return false
	}
}

func (r *commandRecording) run(stdout io.Reader) {
	defer close(r.frames)
	readErr := r.pump(stdout)
	waitErr := r.cmd.Wait()
	close(r.exited)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isStopped() {
		return
	}
	switch {
	case readErr != nil:
		r.err = fmt.Errorf("read recording output: %w", readErr)
	case waitErr != nil:
		r.err = fmt.Errorf("recording backend exited: %w", waitErr)
	}
}

// pump forwards stdout chunks as frames. Once stopped it keeps draining
// stdout without emitting so the backend can exit.
func (r *commandRecording) pump(stdout io.Reader) error {
	buf := make([]byte, readChunkBytes)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && !r.isStopped() {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			r.emit(frame)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// emit delivers frame unless the recording has been stopped. Stop waits for
// an emit in progress, so nothing is delivered after Stop returns.
func (r *commandRecording) emit(frame []byte) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.halted {
		return
	}
	select {
	case r.frames <- frame:
	case <-r.stopped:
	}
}
