package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/foxseedlab/livescribe/internal/telemetry"
	"github.com/foxseedlab/livescribe/internal/transcriber"
)

// ErrAborted is the completion cause of a session ended by Abort.
var ErrAborted = errors.New("session: aborted")

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handlers receive inbound events. All of them run on the session's receive
// goroutine, one at a time; a slow handler delays the next segment. No
// segment is delivered once the session is closed, and Done is not closed
// while OnSegment is still running.
type Handlers struct {
	OnSegment func(transcriber.Segment)
	// OnEnd runs once when the peer finishes the inbound half.
	OnEnd func()
	// OnError runs once when the session fails with a transport fault.
	OnError func(error)
}

// Session drives one bidirectional transcription stream. Forward,
// CloseOutbound and Abort may be called from any goroutine.
type Session struct {
	stream   transcriber.Stream
	handlers Handlers
	log      *slog.Logger
	metrics  *telemetry.SessionMetrics

	mu             sync.Mutex
	state          State
	queue          frameQueue
	outboundClosed bool
	sendStopped    bool
	finished       bool
	delivering     bool
	sendFault      error
	err            error

	wake chan struct{}
	done chan struct{}
}

// Open dials target and starts the send and receive loops. A dial failure
// returns an error wrapping transcriber.ErrConnection and no session.
func Open(ctx context.Context, dialer transcriber.Dialer, target transcriber.Target, handlers Handlers, logger *slog.Logger, metrics *telemetry.SessionMetrics) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		handlers: handlers,
		log:      logger,
		metrics:  metrics,
		state:    StateIdle,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.setState(StateConnecting)
	stream, err := dialer.Open(ctx, target)
	if err != nil {
		s.setState(StateClosed)
		if !errors.Is(err, transcriber.ErrConnection) {
			err = fmt.Errorf("%w: %w", transcriber.ErrConnection, err)
		}
		return nil, err
	}
	s.stream = stream
	s.setState(StateActive)

	go s.sendLoop()
	go s.recvLoop()
	return s, nil
}

// Forward queues frame for transmission after every previously forwarded
// frame. It never blocks on the network.
func (s *Session) Forward(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.outboundClosed || s.sendStopped {
		return fmt.Errorf("%w: forward in state %s", transcriber.ErrStreamClosed, s.state)
	}
	s.queue.push(frame)
	s.signal()
	return nil
}

// CloseOutbound tells the peer no more frames follow once the queue drains.
// The inbound half stays open until the peer ends it.
func (s *Session) CloseOutbound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outboundClosed || s.state == StateClosed {
		return fmt.Errorf("%w: outbound already closed", transcriber.ErrStreamClosed)
	}
	s.outboundClosed = true
	if s.state == StateActive {
		s.state = StateClosing
	}
	s.signal()
	return nil
}

// Abort tears down both halves. Frames still queued are dropped. Handlers are
// not called. Calling Abort on a finished session does nothing.
func (s *Session) Abort() {
	s.finish(ErrAborted, false)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the completion cause after Done is closed: nil for a normal
// end, ErrAborted after Abort, or the transport error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// signal must be called with mu held.
func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next returns the next frame to send. With no frame queued it reports
// whether the outbound half should be closed or the loop should stop.
func (s *Session) next() (frame []byte, ok, closeSend, stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.sendStopped {
		return nil, false, false, true
	}
	if f, ok := s.queue.pop(); ok {
		return f, true, false, false
	}
	return nil, false, s.outboundClosed, false
}

func (s *Session) sendLoop() {
	for {
		frame, ok, closeSend, stop := s.next()
		switch {
		case stop:
			return
		case ok:
			if err := s.stream.Send(frame); err != nil {
				s.handleSendError(err)
				return
			}
			s.metrics.RecordFrame(len(frame))
			continue
		case closeSend:
			if err := s.stream.CloseSend(); err != nil {
				s.log.Warn("failed to close outbound half", "error", err)
			}
			s.log.Debug("outbound half closed")
			return
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleSendError(err error) {
	if errors.Is(err, transcriber.ErrStreamClosed) {
		s.mu.Lock()
		s.sendStopped = true
		dropped := s.queue.reset()
		s.mu.Unlock()
		// The peer ended the call; the receive loop reports how.
		s.log.Info("peer closed the stream; no longer forwarding", "dropped_frames", dropped)
		return
	}

	// Closing the stream unblocks Recv, which finishes with this fault.
	s.mu.Lock()
	s.sendStopped = true
	s.sendFault = err
	dropped := s.queue.reset()
	s.mu.Unlock()
	s.log.Warn("send failed; closing stream", "error", err, "dropped_frames", dropped)
	if cerr := s.stream.Close(); cerr != nil {
		s.log.Debug("failed to close stream", "error", cerr)
	}
}

func (s *Session) recvLoop() {
	for {
		seg, err := s.stream.Recv()
		if err != nil {
			s.mu.Lock()
			fault := s.sendFault
			s.mu.Unlock()
			switch {
			case fault != nil:
				s.finish(fault, true)
			case errors.Is(err, io.EOF):
				s.finish(nil, true)
			default:
				s.finish(err, true)
			}
			return
		}
		seg = s.sanitize(seg)
		if !s.beginDelivery() {
			s.log.Debug("dropping segment received after close", "text_length", len(seg.Text))
			continue
		}
		s.metrics.RecordSegment(seg.Text, seg.Duration())
		if s.handlers.OnSegment != nil {
			s.handlers.OnSegment(seg)
		}
		s.endDelivery()
	}
}

// sanitize clamps offsets that are not finite or end before they start.
func (s *Session) sanitize(seg transcriber.Segment) transcriber.Segment {
	start, end := seg.StartOffset, seg.EndOffset
	if math.IsNaN(start) || math.IsInf(start, 0) {
		start = 0
	}
	if math.IsNaN(end) || math.IsInf(end, 0) || end < start {
		end = start
	}
	if start != seg.StartOffset || end != seg.EndOffset {
		s.log.Warn("segment has invalid offsets; clamping", "start", seg.StartOffset, "end", seg.EndOffset)
		seg.StartOffset, seg.EndOffset = start, end
	}
	return seg
}

// beginDelivery reports whether a segment may still be handed to OnSegment.
func (s *Session) beginDelivery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.delivering = true
	return true
}

// endDelivery closes done when the session finished while OnSegment ran.
func (s *Session) endDelivery() {
	s.mu.Lock()
	s.delivering = false
	closeDone := s.finished
	s.mu.Unlock()
	if closeDone {
		close(s.done)
	}
}

// finish moves the session to StateClosed exactly once. Later calls return
// immediately, so handlers may call back into the session. When a segment
// is being delivered, closing done is left to endDelivery.
func (s *Session) finish(cause error, notify bool) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.state = StateClosed
	s.err = cause
	dropped := s.queue.reset()
	inFlight := s.delivering
	s.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		s.log.Debug("failed to close stream", "error", err)
	}
	if dropped > 0 {
		s.log.Info("dropped queued frames", "frames", dropped, "cause", cause)
	}

	if notify {
		switch {
		case cause == nil && s.handlers.OnEnd != nil:
			s.handlers.OnEnd()
		case cause != nil && s.handlers.OnError != nil:
			s.handlers.OnError(cause)
		}
	}
	if !inFlight {
		close(s.done)
	}
}
