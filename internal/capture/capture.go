// Package capture describes a live microphone source that yields raw audio
// frames until it is stopped or its backend exits.
package capture

import (
	"errors"
	"time"
)

// ErrUnavailable is returned by Recorder.Start when no recording backend can be launched.
var ErrUnavailable = errors.New("capture: recording backend unavailable")

// Options enumerates the recording settings understood by a Recorder.
type Options struct {
	SampleRateHz int
	// SilenceSeconds is the trailing silence after which the backend flushes
	// and ends the recording. Only applied when EndOnSilence is set.
	SilenceSeconds   float64
	ThresholdPercent float64
	EndOnSilence     bool
	// Program names the OS recording utility, e.g. "rec", "sox" or "arecord".
	Program   string
	Device    string
	AudioType string
}

// Recording is one running capture. Frames are delivered in capture order on
// the channel returned by Frames, which is closed exactly once when the
// recording ends for any reason.
type Recording interface {
	Frames() <-chan []byte
	// Stop asks the backend to terminate. It is idempotent and safe to call
	// from any goroutine.
	Stop()
	// Err reports why the backend exited after Frames is closed. A backend
	// terminated by Stop reports nil.
	Err() error
	// Exited is closed once the backend process has exited and released
	// the device.
	Exited() <-chan struct{}
	StartedAt() time.Time
}

type Recorder interface {
	Start(opts Options) (Recording, error)
}
