package qa

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noor-live/backend/internal/models"
)

// Repository is the PostgreSQL-backed question and vote store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Q&A repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const questionColumns = `id, session_id, author_id, text, vote_count, status, created_at`

// CreateQuestion inserts a pending question.
func (r *Repository) CreateQuestion(ctx context.Context, q *models.Question) error {
	const stmt = `INSERT INTO questions (id, session_id, author_id, text, vote_count, status)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, stmt, q.ID, q.SessionID, q.AuthorID, q.Text, q.Status).Scan(&q.CreatedAt)
}

// GetQuestion returns a question by id, or (nil, nil) when absent.
func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	var q models.Question
	err := row.Scan(&q.ID, &q.SessionID, &q.AuthorID, &q.Text, &q.VoteCount, &q.Status, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListBySession returns all of a session's questions in creation order; the
// service applies the display ordering.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.SessionID, &q.AuthorID, &q.Text, &q.VoteCount, &q.Status, &q.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// UpsertVote writes the voter's current vote, replacing any prior row for the
// same (question, voter) pair.
func (r *Repository) UpsertVote(ctx context.Context, v models.Vote) error {
	const stmt = `INSERT INTO votes (question_id, voter_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (question_id, voter_id) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, stmt, v.QuestionID, v.VoterID, v.Value)
	return err
}

// SumVotes recomputes the tally from the vote rows.
func (r *Repository) SumVotes(ctx context.Context, questionID uuid.UUID) (int, error) {
	var sum int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM votes WHERE question_id = $1`, questionID).Scan(&sum)
	return sum, err
}

// SetVoteCount stores the recomputed tally on the question row.
func (r *Repository) SetVoteCount(ctx context.Context, questionID uuid.UUID, count int) error {
	_, err := r.pool.Exec(ctx, `UPDATE questions SET vote_count = $2 WHERE id = $1`, questionID, count)
	return err
}

// SetStatusFromPending applies the status only while the question is pending.
func (r *Repository) SetStatusFromPending(ctx context.Context, questionID uuid.UUID, to models.QuestionStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions SET status = $2 WHERE id = $1 AND status = 'pending'`, questionID, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
