package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/labdesk/internal/platform/db"
)

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const orderCols = `id, patient_id, referrer_id, status, server_id, received_at, note, created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.PatientID, &o.ReferrerID, &o.Status, &o.ServerID, &o.ReceivedAt, &o.Note,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO orders (patient_id, referrer_id, status, server_id, received_at, note)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at, updated_at`,
		o.PatientID, o.ReferrerID, o.Status, o.ServerID, o.ReceivedAt, o.Note,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *orderRepoPG) GetByID(ctx context.Context, id int64) (*Order, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepoPG) Update(ctx context.Context, o *Order) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE orders SET patient_id=$2, referrer_id=$3, status=$4, server_id=$5, received_at=$6,
			note=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.PatientID, o.ReferrerID, o.Status, o.ServerID, o.ReceivedAt, o.Note,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *orderRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Order, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["status"]; ok {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["server_id"]; ok {
		where += fmt.Sprintf(` AND server_id = $%d`, idx)
		args = append(args, v)
		idx++
	}
	for _, key := range []string{"patient_id", "referrer_id"} {
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
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderCols + ` FROM orders` + where + fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *orderRepoPG) ListByStatuses(ctx context.Context, statuses []Status) ([]*Order, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orderCols+` FROM orders WHERE status = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// -- Ordered tests --

func (r *orderRepoPG) AddTest(ctx context.Context, orderID, testID int64) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_test_item (order_id, test_id) VALUES ($1, $2)
		ON CONFLICT (order_id, test_id) DO NOTHING`, orderID, testID)
	return err
}

func (r *orderRepoPG) ListTests(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT test_id FROM order_test_item WHERE order_id = $1 ORDER BY test_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// -- Samples --

const sampleCols = `id, order_id, sample_type_id, sample_id, collected_at, note, created_at`

func (r *orderRepoPG) CreateSample(ctx context.Context, s *Sample) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO order_samples (order_id, sample_type_id, sample_id, collected_at, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		s.OrderID, s.SampleTypeID, s.SampleID, s.CollectedAt, s.Note,
	).Scan(&s.ID, &s.CreatedAt)
}

func (r *orderRepoPG) ListSamples(ctx context.Context, orderID int64) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM order_samples WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.OrderID, &s.SampleTypeID, &s.SampleID, &s.CollectedAt, &s.Note, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *orderRepoPG) DeleteSample(ctx context.Context, orderID, sampleID int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM order_samples WHERE id = $1 AND order_id = $2`, sampleID, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
