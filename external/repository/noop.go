package repository

import (
	"context"

	"github.com/foxseedlab/livescribe/internal/repository"
)

// NoopRepository is used when no DATABASE_URL is configured.
type NoopRepository struct{}

func NewNoopRepository() repository.Repository {
	return NoopRepository{}
}

func (NoopRepository) CreateSession(context.Context, repository.CreateSessionInput) error {
	return nil
}

func (NoopRepository) CompleteSession(context.Context, repository.CompleteSessionInput) error {
	return nil
}

func (NoopRepository) InsertSegment(context.Context, repository.InsertSegmentInput) error {
	return nil
}

func (NoopRepository) ListSegmentsBySessionID(context.Context, string) ([]repository.TranscriptSegment, error) {
	return nil, nil
}

func (NoopRepository) Close() {}
