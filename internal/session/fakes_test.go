package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/foxseedlab/livescribe/internal/capture"
	"github.com/foxseedlab/livescribe/internal/discord"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type recvEvent struct {
	seg transcriber.Segment
	err error
}

// fakeStream is an in-memory transcriber.Stream. Events pushed to inbound are
// returned by Recv; replyOnCloseSend is pushed, followed by io.EOF, when the
// outbound half is closed.
type fakeStream struct {
	log *eventLog

	mu               sync.Mutex
	sent             [][]byte
	attempted        [][]byte
	closeSendCalls   int
	sentAtCloseSend  int
	closeCalls       int
	sendErr          error
	replyOnCloseSend []recvEvent

	gate        chan struct{}
	sendEntered chan struct{}
	inbound     chan recvEvent
	closed      chan struct{}
	closeOnce   sync.Once
}

func newFakeStream(log *eventLog) *fakeStream {
	return &fakeStream{
		log:     log,
		inbound: make(chan recvEvent, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeStream) Send(frame []byte) error {
	f.mu.Lock()
	f.attempted = append(f.attempted, frame)
	gate, entered, sendErr := f.gate, f.sendEntered, f.sendErr
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-f.closed:
			return fmt.Errorf("%w: closed while sending", transcriber.ErrStreamClosed)
		}
	}
	if sendErr != nil {
		return sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSendCalls++
	f.sentAtCloseSend = len(f.sent)
	replies := f.replyOnCloseSend
	f.mu.Unlock()
	f.log.add("stream.close_send")
	if replies != nil {
		for _, ev := range replies {
			f.inbound <- ev
		}
		f.inbound <- recvEvent{err: io.EOF}
	}
	return nil
}

func (f *fakeStream) Recv() (transcriber.Segment, error) {
	select {
	case ev := <-f.inbound:
		return ev.seg, ev.err
	case <-f.closed:
		return transcriber.Segment{}, fmt.Errorf("%w: closed", transcriber.ErrStreamClosed)
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() {
		f.log.add("stream.close")
		close(f.closed)
	})
	return nil
}

func (f *fakeStream) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeStream) attemptedFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.attempted...)
}

type fakeDialer struct {
	stream *fakeStream
	err    error

	mu     sync.Mutex
	opened int
}

func (d *fakeDialer) Open(_ context.Context, _ transcriber.Target) (transcriber.Stream, error) {
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

type fakeRecording struct {
	log      *eventLog
	frames   chan []byte
	exited   chan struct{}
	err      error
	stopOnce sync.Once

	// exitDelay postpones Exited after Stop, like a backend that takes a
	// while to die.
	exitDelay time.Duration

	mu        sync.Mutex
	stopCalls int
}

func (r *fakeRecording) Frames() <-chan []byte   { return r.frames }
func (r *fakeRecording) Err() error              { return r.err }
func (r *fakeRecording) StartedAt() time.Time    { return time.Time{} }
func (r *fakeRecording) Exited() <-chan struct{} { return r.exited }

func (r *fakeRecording) Stop() {
	r.mu.Lock()
	r.stopCalls++
	r.mu.Unlock()
	r.stopOnce.Do(func() {
		r.log.add("recorder.stop")
		if r.exitDelay == 0 {
			close(r.exited)
			return
		}
		go func() {
			time.Sleep(r.exitDelay)
			close(r.exited)
		}()
	})
}

type fakeRecorder struct {
	recording *fakeRecording
	err       error

	mu     sync.Mutex
	starts int
}

func (r *fakeRecorder) Start(_ capture.Options) (capture.Recording, error) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.recording, nil
}

type mockRepository struct {
	mu            sync.Mutex
	created       []repository.CreateSessionInput
	completed     []repository.CompleteSessionInput
	insertedCalls []repository.InsertSegmentInput
	listCalls     []string

	archived []repository.TranscriptSegment
	listErr  error
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, input)
	return nil
}

func (m *mockRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertedCalls = append(m.insertedCalls, input)
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, sessionID)
	return m.archived, m.listErr
}

func (m *mockRepository) Close() {}

type mockDiscordClient struct {
	mu        sync.Mutex
	sendCalls []string
	fileCalls []discord.FileMessage
}

func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}

func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}

func (m *mockDiscordClient) Close() error { return nil }

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptWebhookPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

// syncBuffer is a goroutine-safe io.Writer for console output.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
