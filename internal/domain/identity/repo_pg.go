package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/labdesk/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const userCols = `id, name, username, email, mobile, password, remember_token, referrer_id, role, active,
	metadata, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.Mobile, &u.Password, &u.RememberToken,
		&u.ReferrerID, &u.Role, &u.Active, &u.Metadata, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w (%s)", ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (name, username, email, mobile, password, remember_token, referrer_id, role, active, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at, updated_at`,
		u.Name, u.Username, u.Email, u.Mobile, u.Password, u.RememberToken, u.ReferrerID, u.Role, u.Active, u.Metadata,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapWriteErr(err)
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByReferrerID(ctx context.Context, referrerID string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE referrer_id = $1`, referrerID))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET name=$2, username=$3, email=$4, mobile=$5, password=$6, remember_token=$7,
			referrer_id=$8, role=$9, active=$10, metadata=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Name, u.Username, u.Email, u.Mobile, u.Password, u.RememberToken,
		u.ReferrerID, u.Role, u.Active, u.Metadata,
	).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteErr(err)
}

func (r *userRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*User, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR username ILIKE $%d OR email ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if role, ok := params["role"]; ok {
		where += fmt.Sprintf(` AND role = $%d`, idx)
		args = append(args, role)
		idx++
	}
	if active, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, active == "true")
		idx++
	}
	if v, ok := params["referrer"]; ok {
		if v == "true" {
			where += ` AND referrer_id IS NOT NULL`
		} else {
			where += ` AND referrer_id IS NULL`
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userCols + ` FROM users` + where + fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
