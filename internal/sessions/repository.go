package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noor-live/backend/internal/models"
)

// Repository is the PostgreSQL-backed session store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, title, status, host_token, user_token, max_participants, peak_participants, created_at, expires_at, started_at, ended_at`

// Create inserts a new session with its tokens and hashed host credential.
func (r *Repository) Create(ctx context.Context, s *models.Session, hostAuthHash string) error {
	const q = `INSERT INTO sessions (id, title, status, host_token, user_token, host_auth_hash, max_participants, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.Title, s.Status, s.HostToken, s.UserToken, hostAuthHash, s.MaxParticipants, s.CreatedAt, s.ExpiresAt)
	return err
}

// GetByID returns a session by id, or (nil, nil) when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByToken returns the session carrying the token as either role, or (nil, nil).
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE host_token = $1 OR user_token = $1`, token))
}

// TokenInUse reports whether any non-ended session holds the token.
func (r *Repository) TokenInUse(ctx context.Context, token string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM sessions WHERE (host_token = $1 OR user_token = $1) AND status <> 'ended')`
	var exists bool
	err := r.pool.QueryRow(ctx, q, token).Scan(&exists)
	return exists, err
}

// CompareAndSwapStatus applies from->to only when the row still holds from.
// started_at/ended_at are stamped by the transition that reaches them.
func (r *Repository) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus) (bool, error) {
	const q = `UPDATE sessions SET status = $3,
		started_at = CASE WHEN $3 = 'active' THEN NOW() ELSE started_at END,
		ended_at   = CASE WHEN $3 = 'ended'  THEN NOW() ELSE ended_at END
		WHERE id = $1 AND status = $2`
	tag, err := r.pool.Exec(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// HostAuth returns the hashed one-time credential and its redeemed flag.
func (r *Repository) HostAuth(ctx context.Context, id uuid.UUID) (string, bool, error) {
	const q = `SELECT host_auth_hash, host_auth_redeemed FROM sessions WHERE id = $1`
	var hash string
	var redeemed bool
	err := r.pool.QueryRow(ctx, q, id).Scan(&hash, &redeemed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrNotFound
	}
	return hash, redeemed, err
}

// RedeemHostAuth flips the credential to redeemed exactly once.
func (r *Repository) RedeemHostAuth(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE sessions SET host_auth_redeemed = TRUE WHERE id = $1 AND host_auth_redeemed = FALSE`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) scanOne(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Title, &s.Status, &s.HostToken, &s.UserToken,
		&s.MaxParticipants, &s.PeakParticipants, &s.CreatedAt, &s.ExpiresAt, &s.StartedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
