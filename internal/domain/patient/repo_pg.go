package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labdesk/labdesk/internal/platform/db"
	"github.com/labdesk/labdesk/internal/platform/fieldcrypt"
)

type patientRepoPG struct {
	pool      *pgxpool.Pool
	encryptor fieldcrypt.Encryptor
}

// NewPatientRepoPG returns a repository that encrypts national ids with enc.
// A nil enc stores them in clear.
func NewPatientRepoPG(pool *pgxpool.Pool, enc fieldcrypt.Encryptor) PatientRepository {
	return &patientRepoPG{pool: pool, encryptor: enc}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Resolve(ctx, r.pool)
}

const patientCols = `id, first_name, last_name, birth_date, gender, national_id, phone, email, address,
	created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender, &p.NationalID,
		&p.Phone, &p.Email, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := fieldcrypt.DecryptPtr(r.encryptor, p.NationalID); err != nil {
		return nil, fmt.Errorf("decrypt national id of patient %d: %w", p.ID, err)
	}
	return &p, nil
}

// sealedNationalID returns the value to store for p.NationalID without
// touching p.
func (r *patientRepoPG) sealedNationalID(p *Patient) (*string, error) {
	if p.NationalID == nil {
		return nil, nil
	}
	v := *p.NationalID
	if err := fieldcrypt.EncryptPtr(r.encryptor, &v); err != nil {
		return nil, fmt.Errorf("encrypt national id: %w", err)
	}
	return &v, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	nid, err := r.sealedNationalID(p)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (first_name, last_name, birth_date, gender, national_id, phone, email, address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at, updated_at`,
		p.FirstName, p.LastName, p.BirthDate, p.Gender, nid, p.Phone, p.Email, p.Address,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	nid, err := r.sealedNationalID(p)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, birth_date=$4, gender=$5, national_id=$6,
			phone=$7, email=$8, address=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, nid, p.Phone, p.Email, p.Address,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *patientRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		where += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d)`, idx, idx)
		args = append(args, "%"+q+"%")
		idx++
	}
	if v, ok := params["gender"]; ok {
		where += fmt.Sprintf(` AND gender = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["birth_date"]; ok {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid birth_date %q", v)
		}
		where += fmt.Sprintf(` AND birth_date = $%d`, idx)
		args = append(args, d)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + ` FROM patients` + where + fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
