package presence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noor-live/backend/internal/models"
)

// Repository is the PostgreSQL-backed participant store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a participant identity.
func (r *Repository) Create(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants (id, session_id, name, locale)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, p.ID, p.SessionID, p.Name, p.Locale).Scan(&p.CreatedAt)
}

// GetByID returns a participant by id, or (nil, nil) when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT id, session_id, name, locale, created_at FROM participants WHERE id = $1`
	var p models.Participant
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.SessionID, &p.Name, &p.Locale, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBySession returns all participants for a session, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, name, locale, created_at FROM participants WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.Locale, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DeleteBySession removes all participants for a session, returning the count.
func (r *Repository) DeleteBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM participants WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// UpdatePeak raises the session's recorded peak participant count.
func (r *Repository) UpdatePeak(ctx context.Context, sessionID uuid.UUID, peak int) error {
	const q = `UPDATE sessions SET peak_participants = $2 WHERE id = $1 AND $2 > peak_participants`
	_, err := r.pool.Exec(ctx, q, sessionID, peak)
	return err
}
