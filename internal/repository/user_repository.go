package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	// FindModeratorBySkills returns the earliest moderator having a skill that contains
	// any of the tokens, case-insensitively.
	FindModeratorBySkills(ctx context.Context, tokens []string) (*domain.User, error)
	FindOneByRole(ctx context.Context, role domain.UserRole) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, skills, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
        INSERT INTO users (email, password_hash, role, skills)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		nonNilSkills(user.Skills),
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	const query = `
        UPDATE users SET email=$1, password_hash=$2, role=$3, skills=$4, updated_at=NOW()
        WHERE id=$5`

	cmd, err := r.pool.Exec(ctx, query,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		nonNilSkills(user.Skills),
		user.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *userRepository) FindModeratorBySkills(ctx context.Context, tokens []string) (*domain.User, error) {
	query, args, ok := moderatorBySkillsQuery(tokens)
	if !ok {
		return nil, ErrNotFound
	}
	return r.queryOne(ctx, query, args...)
}

// moderatorBySkillsQuery builds the skill match; ok is false when no usable token remains.
func moderatorBySkillsQuery(tokens []string) (query string, args []any, ok bool) {
	tokens = domain.NormalizeSkills(tokens)
	if len(tokens) == 0 {
		return "", nil, false
	}
	// strpos keeps tokens literal, so "C++" or "node.js" need no escaping.
	query = `SELECT ` + userColumns + ` FROM users u
        WHERE u.role = $1
          AND EXISTS (
              SELECT 1 FROM unnest(u.skills) AS skill, unnest($2::text[]) AS token
              WHERE strpos(lower(skill), lower(token)) > 0
          )
        ORDER BY u.created_at
        LIMIT 1`
	return query, []any{string(domain.UserRoleModerator), tokens}, true
}

func (r *userRepository) FindOneByRole(ctx context.Context, role domain.UserRole) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role=$1 ORDER BY created_at LIMIT 1`
	return r.queryOne(ctx, query, string(role))
}

func (r *userRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users, err := scanUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func scanUsers(rows pgx.Rows) ([]domain.User, error) {
	var result []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.Role,
			&user.Skills,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func nonNilSkills(skills []string) []string {
	if skills == nil {
		return []string{}
	}
	return skills
}
