package repository

import (
	"context"

	"github.com/foxseedlab/livescribe/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of *pgxpool.Pool the repository needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresRepository struct {
	db    querier
	close func()
}

func NewPostgresRepository(db querier, closeFn func()) repository.Repository {
	if closeFn == nil {
		closeFn = func() {}
	}
	return &PostgresRepository{db: db, close: closeFn}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, target, backend, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')`,
		input.ID, input.Target, input.Backend, input.StartedAt)
	return err
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $2, ended_at = $3, stop_reason = $4 WHERE id = $1`,
		input.SessionID, string(input.Status), input.EndedAt, input.StopReason)
	return err
}

func (r *PostgresRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO transcript_segments (session_id, segment_index, content, start_offset, end_offset, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		input.SessionID, input.SegmentIndex, input.Content, input.StartOffset, input.EndOffset, input.ReceivedAt)
	return err
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT session_id, segment_index, content, start_offset, end_offset, received_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.SessionID, &seg.SegmentIndex, &seg.Content, &seg.StartOffset, &seg.EndOffset, &seg.ReceivedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) Close() {
	r.close()
}
