package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/livescribe/internal/capture"
	"github.com/foxseedlab/livescribe/internal/config"
	"github.com/foxseedlab/livescribe/internal/discord"
	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/telemetry"
	"github.com/foxseedlab/livescribe/internal/transcriber"
	"github.com/foxseedlab/livescribe/internal/webhook"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	sinkTimeout     = 5 * time.Second
	finalizeTimeout = 30 * time.Second
	// Longer than the recorder's SIGTERM grace period, so its SIGKILL
	// fallback gets to run.
	recorderExitTimeout = 3 * time.Second
)

// Manager owns one run: it wires the capture source to a transcription
// session and publishes what comes back.
type Manager struct {
	cfg         *config.Config
	recorder    capture.Recorder
	captureOpts capture.Options
	dialer      transcriber.Dialer
	target      transcriber.Target
	repo        repository.Repository
	discord     discord.Client
	webhook     webhook.Sender
	out         io.Writer

	newID func() string
	now   func() time.Time
}

func NewManager(
	cfg *config.Config,
	rec capture.Recorder,
	captureOpts capture.Options,
	dialer transcriber.Dialer,
	target transcriber.Target,
	repo repository.Repository,
	dc discord.Client,
	wh webhook.Sender,
	out io.Writer,
) *Manager {
	return &Manager{
		cfg:         cfg,
		recorder:    rec,
		captureOpts: captureOpts,
		dialer:      dialer,
		target:      target,
		repo:        repo,
		discord:     dc,
		webhook:     wh,
		out:         out,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// run is the per-invocation state shared with the session's receive goroutine.
type run struct {
	id        string
	startedAt time.Time
	log       *slog.Logger
	metrics   *telemetry.SessionMetrics

	mu       sync.Mutex
	segments []repository.TranscriptSegment
}

func (r *run) snapshot() []repository.TranscriptSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.TranscriptSegment(nil), r.segments...)
}

// Run captures audio and streams it until the recording ends, the stream
// fails, or ctx is cancelled. Cancellation is a clean shutdown and returns
// nil. Capture, connection and transport failures are returned.
func (m *Manager) Run(ctx context.Context) error {
	r := &run{
		id:        m.newID(),
		startedAt: m.now(),
	}
	r.log = slog.With("session_id", r.id)
	r.metrics = telemetry.StartSession(slog.Default(), r.id)
	m.createSessionRecord(ctx, r)

	r.log.Info("opening transcription session", "target", m.target.Address(), "secure", m.target.Secure, "backend", m.cfg.TranscriberBackend)
	sess, err := Open(ctx, m.dialer, m.target, m.handlers(r), r.log, r.metrics)
	if err != nil {
		if ctx.Err() != nil {
			r.log.Info("interrupted before the session was established")
			m.finishRun(r, stopReasonInterrupted, nil)
			return nil
		}
		m.finishRun(r, stopReasonConnectionFailed, err)
		return err
	}

	rec, err := m.recorder.Start(m.captureOpts)
	if err != nil {
		sess.Abort()
		m.finishRun(r, stopReasonCaptureUnavailable, err)
		return err
	}
	defer rec.Stop()
	r.log.Info("recording started", "program", m.captureOpts.Program)
	m.sendToDiscord(r, messageTranscriptStarted)

	reason, runErr := m.pump(ctx, r.log, rec, sess)
	rec.Stop()
	awaitRecorderExit(r.log, rec)
	m.finishRun(r, reason, runErr)
	return runErr
}

// pump forwards frames until one of the three termination paths fires and
// reports which one it was.
func (m *Manager) pump(ctx context.Context, log *slog.Logger, rec capture.Recording, sess *Session) (string, error) {
	frames := rec.Frames()
	for {
		select {
		case <-ctx.Done():
			return interrupt(log, rec, sess)
		case <-sess.Done():
			rec.Stop()
			return completionReason(sess.Err(), false)
		case frame, ok := <-frames:
			if !ok {
				if err := rec.Err(); err != nil {
					log.Warn("recording backend exited with error", "error", err)
				}
				log.Info("recording ended; closing outbound half")
				if err := sess.CloseOutbound(); err != nil {
					log.Debug("outbound half already closed", "error", err)
				}
				return awaitCompletion(ctx, log, rec, sess, true)
			}
			if ctx.Err() != nil {
				return interrupt(log, rec, sess)
			}
			if err := sess.Forward(frame); err != nil {
				log.Info("stopped forwarding frames", "error", err)
				rec.Stop()
				return awaitCompletion(ctx, log, rec, sess, false)
			}
		}
	}
}

func awaitCompletion(ctx context.Context, log *slog.Logger, rec capture.Recording, sess *Session, outboundClosed bool) (string, error) {
	select {
	case <-sess.Done():
		return completionReason(sess.Err(), outboundClosed)
	case <-ctx.Done():
		return interrupt(log, rec, sess)
	}
}

// interrupt releases the microphone before tearing down the stream. It
// returns once a segment being handled at the time has been recorded.
func interrupt(log *slog.Logger, rec capture.Recording, sess *Session) (string, error) {
	log.Info("interrupt received; stopping")
	rec.Stop()
	sess.Abort()
	<-sess.Done()
	return stopReasonInterrupted, nil
}

func awaitRecorderExit(log *slog.Logger, rec capture.Recording) {
	select {
	case <-rec.Exited():
	case <-time.After(recorderExitTimeout):
		log.Warn("recording backend did not exit in time", "timeout", recorderExitTimeout)
	}
}

func completionReason(err error, outboundClosed bool) (string, error) {
	switch {
	case err == nil && outboundClosed:
		return stopReasonCaptureEnded, nil
	case err == nil:
		return stopReasonPeerClosed, nil
	case errors.Is(err, ErrAborted):
		return stopReasonInterrupted, nil
	case errors.Is(err, transcriber.ErrStreamClosed):
		return stopReasonStreamClosed, nil
	default:
		return stopReasonTransportFault, err
	}
}

func (m *Manager) handlers(r *run) Handlers {
	return Handlers{
		OnSegment: func(seg transcriber.Segment) {
			m.handleSegment(r, seg)
		},
		OnEnd: func() {
			r.log.Info("transcription service finished the stream")
		},
		OnError: func(err error) {
			r.log.Error("transcription stream failed", "error", err)
		},
	}
}

func (m *Manager) handleSegment(r *run, seg transcriber.Segment) {
	receivedAt := m.now()
	if _, err := fmt.Fprintln(m.out, consoleLine(seg, receivedAt.Sub(r.startedAt))); err != nil {
		r.log.Warn("failed to print segment", "error", err)
	}

	r.mu.Lock()
	index := len(r.segments)
	stored := repository.TranscriptSegment{
		SessionID:    r.id,
		SegmentIndex: index,
		Content:      seg.Text,
		StartOffset:  seg.StartOffset,
		EndOffset:    seg.EndOffset,
		ReceivedAt:   receivedAt,
	}
	r.segments = append(r.segments, stored)
	r.mu.Unlock()

	if strings.TrimSpace(seg.Text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.repo.InsertSegment(ctx, repository.InsertSegmentInput{
		SessionID:    stored.SessionID,
		SegmentIndex: stored.SegmentIndex,
		Content:      stored.Content,
		StartOffset:  stored.StartOffset,
		EndOffset:    stored.EndOffset,
		ReceivedAt:   stored.ReceivedAt,
	}); err != nil {
		r.log.Error("failed to insert segment", "error", err, "segment_index", index)
	}
	m.sendToDiscord(r, seg.Text)
}

func (m *Manager) sendToDiscord(r *run, content string) {
	if m.cfg.DiscordChannelID == "" {
		return
	}
	done := make(chan error, 1)
	go func() {
		done <- m.discord.SendChannelMessage(m.cfg.DiscordChannelID, content)
	}()
	select {
	case err := <-done:
		if err != nil {
			r.log.Error("failed to post transcript message", "error", err)
		}
	case <-time.After(sinkTimeout):
		r.log.Warn("discord post timed out", "timeout", sinkTimeout)
	}
}

func (m *Manager) createSessionRecord(ctx context.Context, r *run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:        r.id,
		Target:    m.target.Address(),
		Backend:   m.cfg.TranscriberBackend,
		StartedAt: r.startedAt,
	}); err != nil {
		r.log.Error("failed to create session record", "error", err)
	}
}

// finishRun publishes the transcript to every configured sink and logs the
// run summary. Sink failures are logged and never change the outcome.
func (m *Manager) finishRun(r *run, reason string, runErr error) {
	endedAt := m.now()
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	segments := m.transcriptSegments(ctx, r)
	meta := transcriptMeta{
		SessionID:  r.id,
		Target:     m.target.Address(),
		Backend:    m.cfg.TranscriberBackend,
		StartedAt:  r.startedAt,
		EndedAt:    endedAt,
		Timezone:   m.cfg.TranscriptTimezone,
		Location:   m.cfg.Location(),
		StopReason: reason,
	}
	r.log.Info("session finished", "reason", reason, "detail", stopReasonDetail(reason), "segments", len(segments))

	var g errgroup.Group
	g.Go(func() error {
		if err := m.repo.CompleteSession(ctx, repository.CompleteSessionInput{
			SessionID:  r.id,
			EndedAt:    endedAt,
			Status:     sessionStatusFor(reason),
			StopReason: reason,
		}); err != nil {
			r.log.Error("failed to complete session record", "error", err)
			return fmt.Errorf("session record: %w", err)
		}
		return nil
	})
	if len(segments) > 0 && m.cfg.DiscordChannelID != "" {
		g.Go(func() error {
			if err := m.discord.SendChannelMessageWithFile(discord.FileMessage{
				ChannelID: m.cfg.DiscordChannelID,
				Content:   fmt.Sprintf(messageTranscriptAttached, stopReasonDetail(reason)),
				Filename:  fmt.Sprintf("transcript-%s.txt", r.id),
				FileBody:  buildTranscriptText(meta, segments),
			}); err != nil {
				r.log.Error("failed to post transcript file", "error", err)
				return fmt.Errorf("discord: %w", err)
			}
			return nil
		})
	}
	if len(segments) > 0 {
		g.Go(func() error {
			if err := m.webhook.SendTranscript(ctx, buildTranscriptWebhookPayload(meta, segments)); err != nil {
				r.log.Error("failed to send webhook transcript", "error", err)
				return fmt.Errorf("webhook: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("transcript publishing incomplete", "first_error", err)
	}

	r.metrics.Finish(reason, runErr)
}

// transcriptSegments prefers the archived transcript and falls back to the
// in-memory copy when the archive is disabled, unreadable or missing rows.
func (m *Manager) transcriptSegments(ctx context.Context, r *run) []repository.TranscriptSegment {
	local := r.snapshot()
	archived, err := m.repo.ListSegmentsBySessionID(ctx, r.id)
	if err != nil {
		r.log.Warn("failed to read archived segments; using in-memory transcript", "error", err)
		return local
	}
	spoken := 0
	for _, seg := range local {
		if strings.TrimSpace(seg.Content) != "" {
			spoken++
		}
	}
	if len(archived) == 0 || len(archived) != spoken {
		if len(archived) > 0 {
			r.log.Warn("archived transcript is incomplete; using in-memory transcript", "archived", len(archived), "received", spoken)
		}
		return local
	}
	return archived
}
