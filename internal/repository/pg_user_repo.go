package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidtube/internal/domain"
)

const pgUniqueViolation = "23505"

const userColumns = `id, username, email, full_name, password_hash, avatar_url,
	cover_image_url, refresh_token, watch_history, created_at, updated_at`

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *PgUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (domain.User, error) {
	if username == "" && email == "" {
		return domain.User{}, ErrNotFound
	}
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		LIMIT 1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, username, email))
}

func (r *PgUserRepository) FindByID(ctx context.Context, id string) (domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (id, username, email, full_name, password_hash, avatar_url,
			cover_image_url, refresh_token, watch_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	now := r.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.WatchHistory == nil {
		user.WatchHistory = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.AvatarURL,
		user.CoverImageURL,
		nullableString(user.RefreshToken),
		user.WatchHistory,
		user.CreatedAt,
		now,
	)
	return mapPgError(err)
}

func (r *PgUserRepository) UpdateByID(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}
	query := `
		UPDATE users SET
			full_name = COALESCE($2::text, full_name),
			email = COALESCE($3::text, email),
			password_hash = COALESCE($4::text, password_hash),
			avatar_url = COALESCE($5::text, avatar_url),
			cover_image_url = COALESCE($6::text, cover_image_url),
			refresh_token = CASE WHEN $8::boolean THEN NULL ELSE COALESCE($7::text, refresh_token) END,
			updated_at = $9
		WHERE id = $1
		RETURNING ` + userColumns
	row := r.pool.QueryRow(ctx, query,
		id,
		patch.FullName,
		patch.Email,
		patch.PasswordHash,
		patch.AvatarURL,
		patch.CoverImageURL,
		patch.RefreshToken,
		patch.ClearRefreshToken,
		r.now(),
	)
	u, err := r.scanOne(row)
	if err != nil {
		return domain.User{}, mapPgError(err)
	}
	return u, nil
}

func (r *PgUserRepository) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	const query = `
		UPDATE users SET refresh_token = $3, updated_at = $4
		WHERE id = $1 AND refresh_token = $2
	`
	tag, err := r.pool.Exec(ctx, query, id, expected, next, r.now())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *PgUserRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PgUserRepository) scanOne(row pgx.Row) (domain.User, error) {
	var (
		u            domain.User
		refreshToken *string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.CoverImageURL,
		&refreshToken,
		&u.WatchHistory,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if refreshToken != nil {
		u.RefreshToken = *refreshToken
	}
	return u, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
