package transcriber

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/livescribe/internal/transcriber"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var transcribeStreamDesc = grpc.StreamDesc{
	StreamName:    transcribeStreamName,
	ServerStreams: true,
	ClientStreams: true,
}

// WhisperDialer opens TranscribeAudio calls against the hosted whisper
// streaming service.
type WhisperDialer struct {
	connectTimeout time.Duration
	dialOptions    []grpc.DialOption
}

func NewWhisperDialer(connectTimeout time.Duration, opts ...grpc.DialOption) *WhisperDialer {
	return &WhisperDialer{
		connectTimeout: connectTimeout,
		dialOptions:    opts,
	}
}

func (d *WhisperDialer) Open(ctx context.Context, target transcriber.Target) (transcriber.Stream, error) {
	slog.Info("connecting to transcription service", "target", target.Address(), "secure", target.Secure)
	conn, err := d.connect(ctx, target)
	if err != nil {
		return nil, err
	}

	// The call outlives ctx cancellation on purpose: teardown is driven by
	// Close so the recorder can be stopped first.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs, err := conn.NewStream(streamCtx, &transcribeStreamDesc, transcribeMethod, grpc.ForceCodec(wireCodec{}))
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open %s on %s: %v", transcriber.ErrConnection, transcribeMethod, target.Address(), err)
	}
	slog.Info("transcription stream opened", "target", target.Address())
	return &whisperStream{conn: conn, stream: cs, cancel: cancel}, nil
}

// Check calls HealthCheckService.Check and returns the reported status code.
func (d *WhisperDialer) Check(ctx context.Context, target transcriber.Target) (int32, error) {
	conn, err := d.connect(ctx, target)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = conn.Close()
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()
	var resp healthCheckResponse
	if err := conn.Invoke(callCtx, healthCheckMethod, &healthCheckRequest{}, &resp, grpc.ForceCodec(wireCodec{})); err != nil {
		return 0, fmt.Errorf("health check %s: %w", target.Address(), err)
	}
	return resp.StatusCode, nil
}

func (d *WhisperDialer) connect(ctx context.Context, target transcriber.Target) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if target.Secure {
		creds = credentials.NewTLS(&tls.Config{
			ServerName: target.Host,
			MinVersion: tls.VersionTLS12,
		})
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, d.dialOptions...)
	conn, err := grpc.NewClient("passthrough:///"+target.Address(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transcriber.ErrConnection, target.Address(), err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", transcriber.ErrConnection, target.Address(), err)
	}
	return conn, nil
}

// waitForReady drives the channel out of idle and fails fast on the first
// transient failure instead of letting gRPC retry in the background.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return errors.New("endpoint unreachable")
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("handshake: %w", ctx.Err())
		}
	}
}

type whisperStream struct {
	conn      *grpc.ClientConn
	stream    grpc.ClientStream
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *whisperStream) Send(frame []byte) error {
	if err := s.stream.SendMsg(&audioRequest{AudioData: frame}); err != nil {
		// SendMsg reports io.EOF once the call has ended; the status is
		// surfaced by Recv.
		if errors.Is(err, io.EOF) || s.closedLocally(err) {
			return fmt.Errorf("%w: %w", transcriber.ErrStreamClosed, err)
		}
		return fmt.Errorf("%w: send: %w", transcriber.ErrTransportFault, err)
	}
	return nil
}

func (s *whisperStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *whisperStream) Recv() (transcriber.Segment, error) {
	var resp transcriptionResponse
	if err := s.stream.RecvMsg(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return transcriber.Segment{}, io.EOF
		}
		if s.closedLocally(err) {
			return transcriber.Segment{}, fmt.Errorf("%w: %w", transcriber.ErrStreamClosed, err)
		}
		return transcriber.Segment{}, fmt.Errorf("%w: receive: %w", transcriber.ErrTransportFault, err)
	}
	return transcriber.Segment{
		Text:        resp.Transcription,
		StartOffset: resp.StartTime,
		EndOffset:   resp.EndTime,
	}, nil
}

func (s *whisperStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// closedLocally reports whether err is the cancellation caused by our own Close.
func (s *whisperStream) closedLocally(err error) bool {
	return s.closed.Load() && status.Code(err) == codes.Canceled
}
