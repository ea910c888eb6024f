package session

import (
	"fmt"
	"time"

	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/foxseedlab/livescribe/internal/transcriber"
)

const (
	stopReasonCaptureEnded   = "capture_ended"
	stopReasonInterrupted    = "interrupted"
	stopReasonTransportFault = "transport_fault"
	stopReasonPeerClosed     = "peer_closed"
	stopReasonStreamClosed   = "stream_closed"

	stopReasonConnectionFailed   = "connection_failed"
	stopReasonCaptureUnavailable = "capture_unavailable"
)

const (
	messageTranscriptStarted  = ":microphone2: **Transcription started.**"
	messageTranscriptAttached = ":page_facing_up: **Transcription finished.** %s"
)

// consoleLine renders one segment for stdout.
func consoleLine(seg transcriber.Segment, elapsed time.Duration) string {
	return fmt.Sprintf("[%s] %s (duration %.2fs)", formatElapsedHMS(elapsed), seg.Text, seg.Duration())
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonCaptureEnded:
		return "The recording ended."
	case stopReasonInterrupted:
		return "The run was interrupted."
	case stopReasonTransportFault:
		return "The connection to the transcription service failed."
	case stopReasonPeerClosed:
		return "The transcription service ended the stream."
	case stopReasonStreamClosed:
		return "The stream was closed."
	case stopReasonConnectionFailed:
		return "The transcription service could not be reached."
	case stopReasonCaptureUnavailable:
		return "The recording backend could not be started."
	default:
		return "The run stopped for an unknown reason."
	}
}

func sessionStatusFor(reason string) repository.SessionStatus {
	switch reason {
	case stopReasonInterrupted:
		return repository.SessionStatusInterrupted
	case stopReasonTransportFault, stopReasonConnectionFailed, stopReasonCaptureUnavailable:
		return repository.SessionStatusFailed
	default:
		return repository.SessionStatusCompleted
	}
}
