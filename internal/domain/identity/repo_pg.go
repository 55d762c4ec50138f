package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medgrid/medgrid/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// -- Patients --

type PatientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) *PatientRepoPG {
	return &PatientRepoPG{pool: pool}
}

func (r *PatientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, user_id, full_name, date_of_birth, contact_no, address,
	access_code, legacy_access_code, profile_photo, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.UserID, &p.FullName, &p.DateOfBirth, &p.ContactNo, &p.Address,
		&p.AccessCode, &p.LegacyAccessCode, &p.ProfilePhoto, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *PatientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`INSERT INTO patients
		(id, user_id, full_name, date_of_birth, contact_no, address, access_code, legacy_access_code, profile_photo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s`, patientCols),
		p.ID, p.UserID, p.FullName, p.DateOfBirth, p.ContactNo, p.Address,
		p.AccessCode, p.LegacyAccessCode, p.ProfilePhoto)
	saved, err := scanPatient(row)
	if err != nil {
		return err
	}
	*p = *saved
	return nil
}

func (r *PatientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	q := fmt.Sprintf("SELECT %s FROM patients WHERE id = $1", patientCols)
	return scanPatient(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *PatientRepoPG) GetByUserID(ctx context.Context, userID string) (*Patient, error) {
	q := fmt.Sprintf("SELECT %s FROM patients WHERE user_id = $1", patientCols)
	return scanPatient(r.conn(ctx).QueryRow(ctx, q, userID))
}

func (r *PatientRepoPG) GetByAccessCode(ctx context.Context, code string) (*Patient, error) {
	q := fmt.Sprintf(`SELECT %s FROM patients
		WHERE access_code = $1 OR legacy_access_code = $1`, patientCols)
	return scanPatient(r.conn(ctx).QueryRow(ctx, q, code))
}

func (r *PatientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET
			full_name = $1, date_of_birth = $2, contact_no = $3, address = $4,
			access_code = $5, legacy_access_code = $6, profile_photo = $7, updated_at = NOW()
		WHERE id = $8`,
		p.FullName, p.DateOfBirth, p.ContactNo, p.Address,
		p.AccessCode, p.LegacyAccessCode, p.ProfilePhoto, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PatientRepoPG) AccessCodeTaken(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM patients WHERE access_code = $1 OR legacy_access_code = $1)`,
		code).Scan(&exists)
	return exists, err
}

// -- Doctors --

type DoctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepoPG(pool *pgxpool.Pool) *DoctorRepoPG {
	return &DoctorRepoPG{pool: pool}
}

func (r *DoctorRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, user_id, full_name, specialization, hospital_code, department_code,
	created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID, &d.UserID, &d.FullName, &d.Specialization, &d.HospitalCode, &d.DepartmentCode,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *DoctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`INSERT INTO doctors
		(id, user_id, full_name, specialization, hospital_code, department_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s`, doctorCols),
		d.ID, d.UserID, d.FullName, d.Specialization, d.HospitalCode, d.DepartmentCode)
	saved, err := scanDoctor(row)
	if err != nil {
		return err
	}
	*d = *saved
	return nil
}

func (r *DoctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	q := fmt.Sprintf("SELECT %s FROM doctors WHERE id = $1", doctorCols)
	return scanDoctor(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *DoctorRepoPG) GetByUserID(ctx context.Context, userID string) (*Doctor, error) {
	q := fmt.Sprintf("SELECT %s FROM doctors WHERE user_id = $1", doctorCols)
	return scanDoctor(r.conn(ctx).QueryRow(ctx, q, userID))
}

func (r *DoctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctors SET
			full_name = $1, specialization = $2, hospital_code = $3, department_code = $4,
			updated_at = NOW()
		WHERE id = $5`,
		d.FullName, d.Specialization, d.HospitalCode, d.DepartmentCode, d.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DoctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM doctors").Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM doctors ORDER BY full_name LIMIT $1 OFFSET $2`, doctorCols)
	rows, err := r.conn(ctx).Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
