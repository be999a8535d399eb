package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("user: not found")

// Repository is the durable-store surface the rest of the system sees for
// users. The presence registry writes through UpdatePresence; everything
// else is request-path CRUD.
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int) (*User, error)
	Search(ctx context.Context, query string, excludeID, limit int) ([]User, error)
	UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) error
	UpdatePresence(ctx context.Context, id int, online bool, lastSeen time.Time) error
}

type pgRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &pgRepository{db: db}
}

const userColumns = "id, email, username, about, avatar, is_online, last_seen, created_at"

func (r *pgRepository) Create(ctx context.Context, u *User) (*User, error) {
	query := `INSERT INTO users (email, username, password)
              VALUES ($1, $2, $3)
              RETURNING id, about, avatar, is_online, last_seen, created_at`

	err := r.db.QueryRowContext(ctx, query, u.Email, u.Username, u.Password).
		Scan(&u.ID, &u.About, &u.Avatar, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *pgRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	query := "SELECT " + userColumns + ", password FROM users WHERE email = $1"

	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.Username, &u.About, &u.Avatar,
		&u.IsOnline, &u.LastSeen, &u.CreatedAt, &u.Password,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id int) (*User, error) {
	u := &User{}
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Username, &u.About, &u.Avatar,
		&u.IsOnline, &u.LastSeen, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *pgRepository) Search(ctx context.Context, query string, excludeID, limit int) ([]User, error) {
	q := `SELECT ` + userColumns + ` FROM users
          WHERE id <> $1 AND (username ILIKE $2 OR email ILIKE $2)
          ORDER BY username
          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, q, excludeID, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.Username, &u.About, &u.Avatar,
			&u.IsOnline, &u.LastSeen, &u.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *pgRepository) UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) error {
	query := `UPDATE users SET username = $2, about = $3, avatar = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, req.Username, req.About, req.Avatar)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepository) UpdatePresence(ctx context.Context, id int, online bool, lastSeen time.Time) error {
	query := `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, online, lastSeen)
	return err
}
