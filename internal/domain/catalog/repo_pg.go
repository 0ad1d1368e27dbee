package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/labdesk/internal/platform/db"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Test Repository ===========

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const testCols = `id, server_id, name, code, short_name, description, turnaround_time,
	is_active, created_at, updated_at`

func (r *testRepoPG) scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.ServerID, &t.Name, &t.Code, &t.ShortName, &t.Description, &t.TurnaroundTime,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO tests (server_id, name, code, short_name, description, turnaround_time, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at, updated_at`,
		t.ServerID, t.Name, t.Code, t.ShortName, t.Description, t.TurnaroundTime, t.IsActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *testRepoPG) GetByID(ctx context.Context, id int64) (*Test, error) {
	return r.scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM tests WHERE id = $1`, id))
}

func (r *testRepoPG) GetByServerID(ctx context.Context, serverID string) (*Test, error) {
	return r.scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM tests WHERE server_id = $1`, serverID))
}

func (r *testRepoPG) Update(ctx context.Context, t *Test) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE tests SET server_id=$2, name=$3, code=$4, short_name=$5, description=$6,
			turnaround_time=$7, is_active=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.ServerID, t.Name, t.Code, t.ShortName, t.Description,
		t.TurnaroundTime, t.IsActive,
	).Scan(&t.UpdatedAt)
}

func (r *testRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Test, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR code ILIKE $%d OR short_name ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if code, ok := params["code"]; ok {
		where += fmt.Sprintf(` AND code = $%d`, idx)
		args = append(args, code)
		idx++
	}
	if active, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, active == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM tests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + testCols + ` FROM tests` + where + fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := r.scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *testRepoPG) DeactivateExcept(ctx context.Context, keepIDs []int64) (int, error) {
	if keepIDs == nil {
		// a NULL array would match nothing
		keepIDs = []int64{}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tests SET is_active = false, updated_at = NOW()
		WHERE is_active AND NOT (id = ANY($1))`, keepIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *testRepoPG) SyncSampleTypes(ctx context.Context, testID int64, rows []TestSampleType) error {
	keep := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		keep = append(keep, row.ID)
	}
	if _, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM test_sample_type WHERE test_id = $1 AND NOT (id = ANY($2))`, testID, keep); err != nil {
		return fmt.Errorf("prune sample types of test %d: %w", testID, err)
	}
	for _, row := range rows {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO test_sample_type (id, test_id, sample_type_id, description, is_default)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO UPDATE SET sample_type_id=EXCLUDED.sample_type_id,
				description=EXCLUDED.description, is_default=EXCLUDED.is_default`,
			row.ID, testID, row.SampleTypeID, row.Description, row.IsDefault); err != nil {
			return fmt.Errorf("attach sample type %d to test %d: %w", row.SampleTypeID, testID, err)
		}
	}
	return nil
}

func (r *testRepoPG) ListSampleTypes(ctx context.Context, testID int64) ([]TestSampleType, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT tst.id, tst.test_id, tst.sample_type_id, tst.description, tst.is_default, st.name
		FROM test_sample_type tst
		JOIN sample_types st ON st.id = tst.sample_type_id
		WHERE tst.test_id = $1
		ORDER BY tst.is_default DESC, st.name`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TestSampleType
	for rows.Next() {
		var a TestSampleType
		if err := rows.Scan(&a.ID, &a.TestID, &a.SampleTypeID, &a.Description, &a.IsDefault, &a.SampleTypeName); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== SampleType Repository ===========

type sampleTypeRepoPG struct{ pool *pgxpool.Pool }

func NewSampleTypeRepoPG(pool *pgxpool.Pool) SampleTypeRepository {
	return &sampleTypeRepoPG{pool: pool}
}

func (r *sampleTypeRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const stCols = `id, server_id, name, orderable, sample_id_required, created_at, updated_at`

func (r *sampleTypeRepoPG) scanST(row pgx.Row) (*SampleType, error) {
	var s SampleType
	if err := row.Scan(&s.ID, &s.ServerID, &s.Name, &s.Orderable, &s.SampleIDRequired, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sampleTypeRepoPG) Create(ctx context.Context, s *SampleType) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO sample_types (server_id, name, orderable, sample_id_required)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at, updated_at`,
		s.ServerID, s.Name, s.Orderable, s.SampleIDRequired,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *sampleTypeRepoPG) GetByID(ctx context.Context, id int64) (*SampleType, error) {
	return r.scanST(r.conn(ctx).QueryRow(ctx, `SELECT `+stCols+` FROM sample_types WHERE id = $1`, id))
}

func (r *sampleTypeRepoPG) GetByServerID(ctx context.Context, serverID string) (*SampleType, error) {
	return r.scanST(r.conn(ctx).QueryRow(ctx, `SELECT `+stCols+` FROM sample_types WHERE server_id = $1 ORDER BY id LIMIT 1`, serverID))
}

func (r *sampleTypeRepoPG) FindByNameOrServerID(ctx context.Context, name, serverID string) (*SampleType, error) {
	return r.scanST(r.conn(ctx).QueryRow(ctx, `
		SELECT `+stCols+` FROM sample_types
		WHERE name = $1 OR server_id = $2
		ORDER BY (name = $1) DESC, id
		LIMIT 1`, name, serverID))
}

func (r *sampleTypeRepoPG) Update(ctx context.Context, s *SampleType) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE sample_types SET server_id=$2, name=$3, orderable=$4, sample_id_required=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.ServerID, s.Name, s.Orderable, s.SampleIDRequired,
	).Scan(&s.UpdatedAt)
}

func (r *sampleTypeRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SampleType, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		where += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if orderable, ok := params["orderable"]; ok {
		where += fmt.Sprintf(` AND orderable = $%d`, idx)
		args = append(args, orderable == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM sample_types`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + stCols + ` FROM sample_types` + where + fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SampleType
	for rows.Next() {
		s, err := r.scanST(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
