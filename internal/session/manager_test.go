package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/livescribe/internal/capture"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
)

type managerFixture struct {
	events    *eventLog
	stream    *fakeStream
	dialer    *fakeDialer
	recording *fakeRecording
	recorder  *fakeRecorder
	repo      *mockRepository
	discord   *mockDiscordClient
	webhook   *mockWebhookSender
	out       *syncBuffer
	manager   *Manager
}

func newManagerFixture(frameBuffer int) *managerFixture {
	f := &managerFixture{events: &eventLog{}}
	f.stream = newFakeStream(f.events)
	f.dialer = &fakeDialer{stream: f.stream}
	f.recording = &fakeRecording{log: f.events, frames: make(chan []byte, frameBuffer), exited: make(chan struct{})}
	f.recorder = &fakeRecorder{recording: f.recording}
	f.repo = &mockRepository{}
	f.discord = &mockDiscordClient{}
	f.webhook = &mockWebhookSender{}
	f.out = &syncBuffer{}
	cfg := &config.Config{
		TranscriberBackend: config.BackendWhisper,
		TranscriptTimezone: "UTC",
		DiscordChannelID:   "chan-1",
	}
	f.manager = NewManager(cfg, f.recorder, capture.Options{Program: "rec", SampleRateHz: 16000}, f.dialer, transcriber.ResolveTarget("", 0), f.repo, f.discord, f.webhook, f.out)
	f.manager.newID = func() string { return "session-1" }
	return f
}

func runManager(t *testing.T, ctx context.Context, m *Manager) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- m.Run(ctx)
	}()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func TestManagerRun_ForwardsFramesThenClosesOutboundOnce(t *testing.T) {
	f := newManagerFixture(3)
	f.stream.replyOnCloseSend = []recvEvent{
		{seg: transcriber.Segment{Text: "hello", StartOffset: 0.0, EndOffset: 1.2}},
		{seg: transcriber.Segment{Text: "world", StartOffset: 1.2, EndOffset: 2.5}},
	}
	f.recording.frames <- []byte("F1")
	f.recording.frames <- []byte("F2")
	f.recording.frames <- []byte("F3")
	close(f.recording.frames)

	if err := f.manager.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := f.stream.sentFrames()
	if len(sent) != 3 || string(sent[0]) != "F1" || string(sent[1]) != "F2" || string(sent[2]) != "F3" {
		t.Fatalf("unexpected frames: %q", sent)
	}
	if f.stream.closeSendCalls != 1 {
		t.Fatalf("expected CloseSend exactly once, got %d", f.stream.closeSendCalls)
	}
	if f.stream.sentAtCloseSend != 3 {
		t.Fatalf("outbound closed after %d frames, want 3", f.stream.sentAtCloseSend)
	}

	out := f.out.String()
	helloAt := strings.Index(out, "hello (duration 1.20s)")
	worldAt := strings.Index(out, "world (duration 1.30s)")
	if helloAt < 0 || worldAt < 0 || helloAt > worldAt {
		t.Fatalf("unexpected console output: %q", out)
	}

	if len(f.repo.insertedCalls) != 2 || f.repo.insertedCalls[1].SegmentIndex != 1 {
		t.Fatalf("unexpected inserted segments: %+v", f.repo.insertedCalls)
	}
	if len(f.repo.completed) != 1 || f.repo.completed[0].StopReason != stopReasonCaptureEnded || f.repo.completed[0].Status != repository.SessionStatusCompleted {
		t.Fatalf("unexpected completion: %+v", f.repo.completed)
	}
	if len(f.webhook.payloads) != 1 || f.webhook.payloads[0].SegmentCount != 2 || f.webhook.payloads[0].Transcript != "hello\nworld" {
		t.Fatalf("unexpected webhook payloads: %+v", f.webhook.payloads)
	}
	if len(f.discord.fileCalls) != 1 || f.discord.fileCalls[0].Filename != "transcript-session-1.txt" {
		t.Fatalf("unexpected discord files: %+v", f.discord.fileCalls)
	}
	if len(f.discord.sendCalls) != 3 || f.discord.sendCalls[1] != "hello" || f.discord.sendCalls[2] != "world" {
		t.Fatalf("unexpected discord messages: %q", f.discord.sendCalls)
	}
}

func TestManagerRun_InterruptStopsRecorderBeforeAbort(t *testing.T) {
	f := newManagerFixture(0)
	f.stream.gate = make(chan struct{})
	f.stream.sendEntered = make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := runManager(t, ctx, f.manager)
	f.recording.frames <- []byte("F1")
	select {
	case <-f.stream.sendEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("first frame never reached the stream")
	}
	f.recording.frames <- []byte("F2")

	cancel()
	select {
	case f.recording.frames <- []byte("F3"):
	case <-time.After(50 * time.Millisecond):
	}

	if err := waitResult(t, result); err != nil {
		t.Fatalf("interrupt must not be an error, got %v", err)
	}

	events := f.events.list()
	if len(events) < 2 || events[0] != "recorder.stop" || events[1] != "stream.close" {
		t.Fatalf("expected recorder stop before stream close, got %v", events)
	}
	for _, frame := range f.stream.attemptedFrames() {
		if string(frame) == "F3" {
			t.Fatal("frame submitted after the interrupt was transmitted")
		}
	}
	if len(f.stream.sentFrames()) != 0 {
		t.Fatalf("no frame should complete transmission, got %q", f.stream.sentFrames())
	}
	if len(f.repo.completed) != 1 || f.repo.completed[0].StopReason != stopReasonInterrupted {
		t.Fatalf("unexpected completion: %+v", f.repo.completed)
	}
}

func TestManagerRun_ConnectionErrorDeliversNoSegments(t *testing.T) {
	f := newManagerFixture(0)
	f.dialer.err = fmt.Errorf("%w: example.com:50051: endpoint unreachable", transcriber.ErrConnection)
	f.manager.target = transcriber.ResolveTarget("example.com", 50051)

	err := f.manager.Run(context.Background())
	if !errors.Is(err, transcriber.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if f.recorder.starts != 0 {
		t.Fatalf("recorder must not start without a session, got %d starts", f.recorder.starts)
	}
	if f.out.String() != "" {
		t.Fatalf("unexpected console output: %q", f.out.String())
	}
	if len(f.webhook.payloads) != 0 {
		t.Fatalf("webhook must not fire without segments: %+v", f.webhook.payloads)
	}
	if len(f.repo.completed) != 1 || f.repo.completed[0].Status != repository.SessionStatusFailed || f.repo.completed[0].StopReason != stopReasonConnectionFailed {
		t.Fatalf("unexpected completion: %+v", f.repo.completed)
	}
}

func TestManagerRun_CaptureUnavailableAbortsSession(t *testing.T) {
	f := newManagerFixture(0)
	f.recorder.err = fmt.Errorf("%w: rec not found", capture.ErrUnavailable)

	err := f.manager.Run(context.Background())
	if !errors.Is(err, capture.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if f.stream.closeCalls == 0 {
		t.Fatal("expected the stream to be closed")
	}
}

func TestManagerRun_TransportFaultIsReturned(t *testing.T) {
	f := newManagerFixture(0)
	result := runManager(t, context.Background(), f.manager)

	f.recording.frames <- []byte("F1")
	f.stream.inbound <- recvEvent{err: fmt.Errorf("%w: connection reset", transcriber.ErrTransportFault)}

	err := waitResult(t, result)
	if !errors.Is(err, transcriber.ErrTransportFault) {
		t.Fatalf("expected ErrTransportFault, got %v", err)
	}
	if f.recording.stopCalls == 0 {
		t.Fatal("expected the recorder to be stopped")
	}
	if f.repo.completed[0].Status != repository.SessionStatusFailed {
		t.Fatalf("unexpected status: %s", f.repo.completed[0].Status)
	}
}

func TestManagerRun_PeerClosedEarlyIsNormal(t *testing.T) {
	f := newManagerFixture(0)
	result := runManager(t, context.Background(), f.manager)

	f.stream.inbound <- recvEvent{seg: transcriber.Segment{Text: "bye", StartOffset: 0, EndOffset: 0.5}}
	f.stream.inbound <- recvEvent{err: io.EOF}

	if err := waitResult(t, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.completed[0].StopReason != stopReasonPeerClosed {
		t.Fatalf("unexpected stop reason: %s", f.repo.completed[0].StopReason)
	}
	if f.stream.closeSendCalls != 0 {
		t.Fatalf("outbound must not be closed without end of capture, got %d", f.stream.closeSendCalls)
	}
}

func TestManagerRun_WaitsForRecorderExitBeforeFinishing(t *testing.T) {
	f := newManagerFixture(0)
	f.recording.exitDelay = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.manager.Run(ctx); err != nil {
		t.Fatalf("interrupt must not be an error, got %v", err)
	}
	select {
	case <-f.recording.Exited():
	default:
		t.Fatal("run returned before the recording backend exited")
	}
	if f.recorder.starts != 1 {
		t.Fatalf("expected one recorder start, got %d", f.recorder.starts)
	}
	if len(f.repo.completed) != 1 || f.repo.completed[0].StopReason != stopReasonInterrupted {
		t.Fatalf("unexpected completion: %+v", f.repo.completed)
	}
}

func TestManagerRun_PublishesArchivedTranscript(t *testing.T) {
	f := newManagerFixture(0)
	f.stream.replyOnCloseSend = []recvEvent{
		{seg: transcriber.Segment{Text: "hello", StartOffset: 0, EndOffset: 1}},
		{seg: transcriber.Segment{Text: "  ", StartOffset: 1, EndOffset: 1.5}},
	}
	f.repo.archived = []repository.TranscriptSegment{
		{SessionID: "session-1", SegmentIndex: 0, Content: "hello (stored)", StartOffset: 0, EndOffset: 1},
	}
	close(f.recording.frames)

	if err := f.manager.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.repo.listCalls) != 1 || f.repo.listCalls[0] != "session-1" {
		t.Fatalf("unexpected archive reads: %v", f.repo.listCalls)
	}
	if len(f.webhook.payloads) != 1 || f.webhook.payloads[0].Transcript != "hello (stored)" {
		t.Fatalf("expected archived transcript, got %+v", f.webhook.payloads)
	}
}

func TestManagerRun_FallsBackToReceivedSegments(t *testing.T) {
	tests := []struct {
		name     string
		archived []repository.TranscriptSegment
		listErr  error
	}{
		{name: "archive disabled"},
		{name: "archive unreadable", listErr: errors.New("connection refused")},
		{
			name: "archive incomplete",
			archived: []repository.TranscriptSegment{
				{SessionID: "session-1", SegmentIndex: 0, Content: "hello (stored)"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(0)
			f.stream.replyOnCloseSend = []recvEvent{
				{seg: transcriber.Segment{Text: "hello", StartOffset: 0, EndOffset: 1}},
				{seg: transcriber.Segment{Text: "world", StartOffset: 1, EndOffset: 2}},
			}
			f.repo.archived = tt.archived
			f.repo.listErr = tt.listErr
			close(f.recording.frames)

			if err := f.manager.Run(context.Background()); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.webhook.payloads) != 1 || f.webhook.payloads[0].Transcript != "hello\nworld" {
				t.Fatalf("expected received transcript, got %+v", f.webhook.payloads)
			}
		})
	}
}

func TestCompletionReason(t *testing.T) {
	cases := []struct {
		name           string
		err            error
		outboundClosed bool
		wantReason     string
		wantErr        bool
	}{
		{name: "capture ended", outboundClosed: true, wantReason: stopReasonCaptureEnded},
		{name: "peer closed", wantReason: stopReasonPeerClosed},
		{name: "aborted", err: ErrAborted, wantReason: stopReasonInterrupted},
		{name: "stream closed", err: fmt.Errorf("%w: x", transcriber.ErrStreamClosed), wantReason: stopReasonStreamClosed},
		{name: "transport fault", err: fmt.Errorf("%w: x", transcriber.ErrTransportFault), wantReason: stopReasonTransportFault, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, err := completionReason(tc.err, tc.outboundClosed)
			if reason != tc.wantReason {
				t.Fatalf("unexpected reason: %s", reason)
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
