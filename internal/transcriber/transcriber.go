package transcriber

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	// ErrConnection means the remote endpoint could not be reached or the
	// handshake failed. It is fatal for the run.
	ErrConnection = errors.New("transcriber: connection failed")
	// ErrStreamClosed is returned when sending after the outbound half has
	// been closed, locally or by the peer.
	ErrStreamClosed = errors.New("transcriber: stream closed")
	// ErrTransportFault marks a mid-stream transport failure.
	ErrTransportFault = errors.New("transcriber: transport fault")
)

const (
	DefaultLocalHost = "127.0.0.1"
	DefaultPort      = 50051
)

// Target is the resolved remote endpoint for one session.
type Target struct {
	Host   string
	Port   int
	Secure bool
}

// ResolveTarget selects an encrypted connection to host:port when host is
// set, and the insecure local default otherwise.
func ResolveTarget(host string, port int) Target {
	if host == "" {
		return Target{Host: DefaultLocalHost, Port: DefaultPort, Secure: false}
	}
	if port <= 0 {
		port = DefaultPort
	}
	return Target{Host: host, Port: port, Secure: true}
}

func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Segment is one transcribed span, with offsets in seconds as reported by the service.
type Segment struct {
	Text        string
	StartOffset float64
	EndOffset   float64
}

func (s Segment) Duration() float64 {
	if s.EndOffset < s.StartOffset {
		return 0
	}
	return s.EndOffset - s.StartOffset
}

// Stream is one bidirectional transcription call. Send and CloseSend must be
// called from a single goroutine; Recv may run concurrently with them.
type Stream interface {
	Send(frame []byte) error
	// CloseSend half-closes the outbound direction.
	CloseSend() error
	// Recv blocks for the next segment and returns io.EOF once the peer has
	// finished sending.
	Recv() (Segment, error)
	// Close terminates both halves and releases the connection. Safe to call
	// more than once and concurrently with Send and Recv.
	Close() error
}

type Dialer interface {
	Open(ctx context.Context, target Target) (Stream, error)
}

// HealthChecker reports the status code of the service health endpoint.
type HealthChecker interface {
	Check(ctx context.Context, target Target) (int32, error)
}
