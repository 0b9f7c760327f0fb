package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"association-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts staff account persistence.
type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (models.StaffUser, error)
	GetUserByEmail(ctx context.Context, email string) (models.StaffUser, error)
	ListStaff(ctx context.Context, excludeID int64) ([]models.Counterpart, error)
	CreateUser(ctx context.Context, user models.StaffUser) (models.StaffUser, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, name, email, role, avatar, password_hash, created_at`

// GetUser fetches a staff account by id.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.StaffUser, error) {
	var user models.StaffUser
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM staff_users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StaffUser{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail fetches a staff account by its login email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.StaffUser, error) {
	var user models.StaffUser
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM staff_users WHERE lower(email)=lower($1)`, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return models.StaffUser{}, ErrUserNotFound
	}
	return user, err
}

// ListStaff returns every addressable staff member except excludeID, by name.
func (r *UserRepo) ListStaff(ctx context.Context, excludeID int64) ([]models.Counterpart, error) {
	staff := []models.Counterpart{}
	err := r.db.SelectContext(ctx, &staff, `SELECT id, name, role, avatar FROM staff_users WHERE id<>$1 ORDER BY name ASC, id ASC`, excludeID)
	return staff, err
}

// CreateUser inserts a staff account. PasswordHash must already be hashed.
func (r *UserRepo) CreateUser(ctx context.Context, user models.StaffUser) (models.StaffUser, error) {
	if user.Role == "" {
		user.Role = models.RoleStaff
	}
	var created models.StaffUser
	err := r.db.QueryRowxContext(ctx, `INSERT INTO staff_users (name, email, role, avatar, password_hash)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+userColumns,
		user.Name, strings.TrimSpace(user.Email), user.Role, user.Avatar, user.PasswordHash).StructScan(&created)
	return created, err
}
