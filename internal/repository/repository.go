package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	ID        string
	Target    string
	Backend   string
	StartedAt time.Time
}

type CompleteSessionInput struct {
	SessionID  string
	EndedAt    time.Time
	Status     SessionStatus
	StopReason string
}

type InsertSegmentInput struct {
	SessionID    string
	SegmentIndex int
	Content      string
	StartOffset  float64
	EndOffset    float64
	ReceivedAt   time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) error
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
	Close()
}
