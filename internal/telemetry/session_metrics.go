package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// SessionMetrics counts the traffic of one transcription session. Frames are
// recorded by the sending side and segments by the receiving side, so every
// counter is atomic.
type SessionMetrics struct {
	log     *slog.Logger
	started time.Time

	frames       atomic.Uint64
	bytes        atomic.Uint64
	segments     atomic.Uint64
	runes        atomic.Uint64
	speechMillis atomic.Int64
	finished     atomic.Bool
}

type Snapshot struct {
	Frames         uint64
	Bytes          uint64
	Segments       uint64
	Runes          uint64
	SpeechDuration time.Duration
}

func StartSession(logger *slog.Logger, sessionID string) *SessionMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionMetrics{
		log:     logger.With("component", "telemetry.SessionMetrics", "session_id", sessionID),
		started: time.Now(),
	}
}

func (m *SessionMetrics) RecordFrame(size int) {
	if m == nil || size <= 0 {
		return
	}
	m.frames.Add(1)
	m.bytes.Add(uint64(size))
}

func (m *SessionMetrics) RecordSegment(text string, duration float64) {
	if m == nil {
		return
	}
	m.segments.Add(1)
	m.runes.Add(uint64(utf8.RuneCountInString(text)))
	if duration > 0 {
		m.speechMillis.Add(int64(duration * 1000))
	}
	m.log.Debug("segment received", "chars", len(text), "duration_sec", duration)
}

func (m *SessionMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Frames:         m.frames.Load(),
		Bytes:          m.bytes.Load(),
		Segments:       m.segments.Load(),
		Runes:          m.runes.Load(),
		SpeechDuration: time.Duration(m.speechMillis.Load()) * time.Millisecond,
	}
}

// Finish logs the summary once. Later calls are ignored.
func (m *SessionMetrics) Finish(reason string, err error) {
	if m == nil || !m.finished.CompareAndSwap(false, true) {
		return
	}
	snap := m.Snapshot()
	args := []any{
		"reason", reason,
		"elapsed_ms", time.Since(m.started).Milliseconds(),
		"frames", snap.Frames,
		"bytes", snap.Bytes,
		"segments", snap.Segments,
		"runes", snap.Runes,
		"speech_ms", snap.SpeechDuration.Milliseconds(),
	}
	if err != nil {
		m.log.Error("session completed with error", append(args, "error", err)...)
		return
	}
	m.log.Info("session completed", args...)
}
