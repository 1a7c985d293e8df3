package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/room-tracker/internal/persistence"
)

// UserRepository implements persistence.UserRepository using SQLite.
type UserRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{pool: pool, mapper: NewErrorMapper()}
}

// CreateUser inserts a new user.
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	const query = `
		INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.pool.conn(ctx).ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetUser retrieves a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	return r.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email address, ignoring case.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	return r.getUser(ctx, "email", email)
}

func (r *UserRepository) getUser(ctx context.Context, column, value string) (persistence.User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, username, password_hash, created_at, updated_at
		FROM users
		WHERE %s = ?`, column)

	var (
		user                 persistence.User
		createdAt, updatedAt string
	)
	err := r.pool.conn(ctx).QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &createdAt, &updatedAt)
	if err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}
	if user.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

// CreateVerification inserts a new e-mail verification.
func (r *UserRepository) CreateVerification(ctx context.Context, v persistence.EmailVerification) error {
	const query = `
		INSERT INTO email_verifications (id, email, code, signature, expires_at, verified_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.pool.conn(ctx).ExecContext(ctx, query,
		v.ID,
		v.Email,
		v.Code,
		v.Signature,
		formatTime(v.ExpiresAt),
		formatNullableTime(v.VerifiedAt),
		formatTime(v.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// LatestVerification returns the newest verification issued for the address.
func (r *UserRepository) LatestVerification(ctx context.Context, email string) (persistence.EmailVerification, error) {
	const query = `
		SELECT id, email, code, signature, expires_at, verified_at, created_at
		FROM email_verifications
		WHERE email = ?
		ORDER BY created_at DESC
		LIMIT 1`

	var (
		v                    persistence.EmailVerification
		expiresAt, createdAt string
		verifiedAt           sql.NullString
	)
	err := r.pool.conn(ctx).QueryRowContext(ctx, query, email).Scan(
		&v.ID, &v.Email, &v.Code, &v.Signature, &expiresAt, &verifiedAt, &createdAt)
	if err != nil {
		return persistence.EmailVerification{}, r.mapper.MapError(err)
	}
	if v.ExpiresAt, err = parseTime("expires_at", expiresAt); err != nil {
		return persistence.EmailVerification{}, err
	}
	if v.VerifiedAt, err = parseNullableTime("verified_at", verifiedAt); err != nil {
		return persistence.EmailVerification{}, err
	}
	if v.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.EmailVerification{}, err
	}
	return v, nil
}

// UpdateVerification stores the verification timestamp and signature.
func (r *UserRepository) UpdateVerification(ctx context.Context, v persistence.EmailVerification) error {
	const query = `UPDATE email_verifications SET signature = ?, verified_at = ? WHERE id = ?`

	result, err := r.pool.conn(ctx).ExecContext(ctx, query, v.Signature, formatNullableTime(v.VerifiedAt), v.ID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
