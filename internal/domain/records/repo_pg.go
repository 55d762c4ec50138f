package records

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

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, patient_id, doctor_id, hospital_code, department_code, special_id,
	record_type, diagnosis, prescription, notes,
	vital_signs, lab_results, treatment_plan, medications, imaging,
	is_encrypted, encrypted_data, encrypted_key, policy, encryption_algorithm,
	created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(
		&m.ID, &m.PatientID, &m.DoctorID, &m.HospitalCode, &m.DepartmentCode, &m.SpecialID,
		&m.RecordType, &m.Diagnosis, &m.Prescription, &m.Notes,
		&m.VitalSigns, &m.LabResults, &m.TreatmentPlan, &m.Medications, &m.Imaging,
		&m.IsEncrypted, &m.EncryptedData, &m.EncryptedKey, &m.Policy, &m.EncryptionAlgorithm,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *RepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, fmt.Sprintf(`INSERT INTO medical_records
		(id, patient_id, doctor_id, hospital_code, department_code, special_id,
		 record_type, diagnosis, prescription, notes,
		 vital_signs, lab_results, treatment_plan, medications, imaging,
		 is_encrypted, encrypted_data, encrypted_key, policy, encryption_algorithm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		 $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING %s`, recordCols),
		m.ID, m.PatientID, m.DoctorID, m.HospitalCode, m.DepartmentCode, m.SpecialID,
		m.RecordType, m.Diagnosis, m.Prescription, m.Notes,
		m.VitalSigns, m.LabResults, m.TreatmentPlan, m.Medications, m.Imaging,
		m.IsEncrypted, m.EncryptedData, m.EncryptedKey, m.Policy, m.EncryptionAlgorithm)
	saved, err := scanRecord(row)
	if err != nil {
		return err
	}
	*m = *saved
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM medical_records WHERE id = $1", recordCols)
	return scanRecord(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) GetBySpecialID(ctx context.Context, specialID string) (*MedicalRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM medical_records WHERE special_id = $1", recordCols)
	return scanRecord(r.conn(ctx).QueryRow(ctx, q, specialID))
}

func (r *RepoPG) Update(ctx context.Context, m *MedicalRecord) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE medical_records SET
			record_type = $1, diagnosis = $2, prescription = $3, notes = $4,
			vital_signs = $5, lab_results = $6, treatment_plan = $7, medications = $8, imaging = $9,
			is_encrypted = $10, encrypted_data = $11, encrypted_key = $12, policy = $13,
			encryption_algorithm = $14, updated_at = NOW()
		WHERE id = $15`,
		m.RecordType, m.Diagnosis, m.Prescription, m.Notes,
		m.VitalSigns, m.LabResults, m.TreatmentPlan, m.Medications, m.Imaging,
		m.IsEncrypted, m.EncryptedData, m.EncryptedKey, m.Policy,
		m.EncryptionAlgorithm, m.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}

func (r *RepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return r.list(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *RepoPG) list(ctx context.Context, col string, id uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM medical_records WHERE %s = $1", col)
	if err := r.conn(ctx).QueryRow(ctx, countQ, id).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM medical_records
		WHERE %s = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recordCols, col)
	rows, err := r.conn(ctx).Query(ctx, q, id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*MedicalRecord
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) HasRecordByDoctorAtHospital(ctx context.Context, patientID, doctorID uuid.UUID, hospitalCode string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM medical_records
			WHERE patient_id = $1 AND doctor_id = $2 AND hospital_code = $3)`,
		patientID, doctorID, hospitalCode).Scan(&exists)
	return exists, err
}

func (r *RepoPG) HasRecordInDepartment(ctx context.Context, patientID uuid.UUID, departmentCode string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM medical_records
			WHERE patient_id = $1 AND department_code = $2)`,
		patientID, departmentCode).Scan(&exists)
	return exists, err
}
