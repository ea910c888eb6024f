package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning     SessionStatus = "running"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusInterrupted SessionStatus = "interrupted"
	SessionStatusFailed      SessionStatus = "failed"
)

type TranscriptSegment struct {
	SessionID    string
	SegmentIndex int
	Content      string
	StartOffset  float64
	EndOffset    float64
	ReceivedAt   time.Time
}
