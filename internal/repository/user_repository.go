package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/model"
	"github.com/iliyamo/airport-booking/internal/utils"
)

type UserRepo struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewUserRepo(logger *logrus.Logger, db *sql.DB) *UserRepo {
	return &UserRepo{logger: logger, db: db}
}

// Create hashes the password, inserts the user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role) VALUES (?,?,?)",
		email, hash, role)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		r.logger.WithContext(ctx).WithError(err).Error("create user")
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.db.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at,updated_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// SetRole changes the role of an existing user.  sql.ErrNoRows is returned
// when no user has the email.
func (r *UserRepo) SetRole(ctx context.Context, email, role string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET role=? WHERE email=?", role, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("set user role")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		u, err := r.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u.Role != role {
			return sql.ErrNoRows
		}
	}
	return nil
}
