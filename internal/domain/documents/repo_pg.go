package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/labdesk/internal/platform/db"
)

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepoPG{pool: pool}
}

func (r *documentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const docCols = `id, kind, title, description, test_id, order_id, patient_id, file_key, active, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Kind, &d.Title, &d.Description, &d.TestID, &d.OrderID, &d.PatientID,
		&d.FileKey, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// foreign_key_violation means a linked row is missing.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w (%s)", ErrInvalidLink, pgErr.ConstraintName)
	}
	return err
}

func (r *documentRepoPG) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO documents (id, kind, title, description, test_id, order_id, patient_id, file_key, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		d.ID, d.Kind, d.Title, d.Description, d.TestID, d.OrderID, d.PatientID, d.FileKey, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return mapWriteErr(err)
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.conn(ctx).QueryRow(ctx, `SELECT `+docCols+` FROM documents WHERE id = $1`, id))
}

func (r *documentRepoPG) Update(ctx context.Context, d *Document) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE documents SET kind=$2, title=$3, description=$4, test_id=$5, order_id=$6, patient_id=$7,
			file_key=$8, active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		d.ID, d.Kind, d.Title, d.Description, d.TestID, d.OrderID, d.PatientID, d.FileKey, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteErr(err)
}

func (r *documentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Document, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["kind"]; ok {
		where += fmt.Sprintf(` AND kind = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}
	for _, key := range []string{"test_id", "order_id", "patient_id"} {
		v, ok := params[key]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid %s %q", key, v)
		}
		where += fmt.Sprintf(` AND %s = $%d`, key, idx)
		args = append(args, n)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + docCols + ` FROM documents` + where + fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
