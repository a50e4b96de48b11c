package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/user"
)

var _ user.Repo = (*UserRepoImpl)(nil)

type UserRepoImpl struct{ db *DB }

func NewUserRepo(db *DB) *UserRepoImpl { return &UserRepoImpl{db: db} }

const qUserGet = `
SELECT id, email, name, created_at
FROM users
WHERE id = $1;
`

func (r *UserRepoImpl) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := r.db.Pool.QueryRow(ctx, qUserGet, id).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
