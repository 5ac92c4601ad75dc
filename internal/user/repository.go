package user

import (
	"context"
	"database/sql"
	"errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var ErrNotFound = errors.New("user not found")

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	query := `
		INSERT INTO users (username, password, display_name, role)
		VALUES ($1, $2, $3, $4) RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, u.Username, u.Password, u.DisplayName, u.Role).Scan(&u.ID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, password, display_name, role FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&u.ID, &u.Username, &u.Password, &u.DisplayName, &u.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// Exists is the opaque-id lookup the messaging core uses for target and
// member validation.
func (r *Repository) Exists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = $1", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// Limited to 10 to keep it fast.
	q := `SELECT id, username, display_name, role FROM users WHERE username ILIKE $1 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
