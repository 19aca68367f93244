package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is the subset of the externally managed users table this service reads.
type User struct {
	ID             string
	Username       string
	ProfilePicture *string
	CreatedAt      time.Time
}

// GetUserByID returns ErrNotFound for ids that are not UUIDs without
// querying.
func (d *DB) GetUserByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, fmt.Errorf("getting user by id: %w", ErrNotFound)
	}
	u := User{ID: id}
	var picture sql.NullString
	err := d.conn.QueryRowContext(ctx, `
		SELECT username, profile_picture, created_at FROM users WHERE id = $1
	`, id).Scan(&u.Username, &picture, &u.CreatedAt)
	if err != nil {
		return User{}, notFound("getting user by id", err)
	}
	if picture.Valid {
		u.ProfilePicture = &picture.String
	}
	return u, nil
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u := User{Username: username}
	var picture sql.NullString
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, profile_picture, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &picture, &u.CreatedAt)
	if err != nil {
		return User{}, notFound("getting user by username", err)
	}
	if picture.Valid {
		u.ProfilePicture = &picture.String
	}
	return u, nil
}
