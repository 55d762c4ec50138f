package access

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// uniqueViolation is the Postgres error code raised when an insert breaks a
// unique constraint.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// -- Grants --

type GrantRepoPG struct {
	pool *pgxpool.Pool
}

func NewGrantRepoPG(pool *pgxpool.Pool) *GrantRepoPG {
	return &GrantRepoPG{pool: pool}
}

func (r *GrantRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const grantCols = `id, patient_id, doctor_id, access_level, is_active,
	granted_at, expires_at, created_at, updated_at`

func scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(
		&g.ID, &g.PatientID, &g.DoctorID, &g.AccessLevel, &g.IsActive,
		&g.GrantedAt, &g.ExpiresAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &g, err
}

func (r *GrantRepoPG) GetByPair(ctx context.Context, patientID, doctorID uuid.UUID) (*Grant, error) {
	q := fmt.Sprintf("SELECT %s FROM access_grants WHERE patient_id = $1 AND doctor_id = $2", grantCols)
	return scanGrant(r.conn(ctx).QueryRow(ctx, q, patientID, doctorID))
}

func (r *GrantRepoPG) GetUsable(ctx context.Context, patientID, doctorID uuid.UUID, now time.Time) (*Grant, error) {
	q := fmt.Sprintf(`SELECT %s FROM access_grants
		WHERE patient_id = $1 AND doctor_id = $2 AND is_active AND expires_at > $3`, grantCols)
	return scanGrant(r.conn(ctx).QueryRow(ctx, q, patientID, doctorID, now))
}

// Upsert relies on the unique (patient_id, doctor_id) index so concurrent
// redemptions for the same pair cannot produce duplicate grants.
func (r *GrantRepoPG) Upsert(ctx context.Context, g *Grant) error {
	q := fmt.Sprintf(`INSERT INTO access_grants
		(id, patient_id, doctor_id, access_level, is_active, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id, doctor_id) DO UPDATE SET
			access_level = EXCLUDED.access_level,
			is_active    = EXCLUDED.is_active,
			granted_at   = EXCLUDED.granted_at,
			expires_at   = EXCLUDED.expires_at,
			updated_at   = NOW()
		RETURNING %s`, grantCols)

	row := r.conn(ctx).QueryRow(ctx, q,
		uuid.New(), g.PatientID, g.DoctorID, g.AccessLevel, g.IsActive, g.GrantedAt, g.ExpiresAt)
	saved, err := scanGrant(row)
	if err != nil {
		return err
	}
	*g = *saved
	return nil
}

func (r *GrantRepoPG) Update(ctx context.Context, g *Grant) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE access_grants SET
			access_level = $1, is_active = $2, expires_at = $3, updated_at = NOW()
		WHERE id = $4`,
		g.AccessLevel, g.IsActive, g.ExpiresAt, g.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GrantRepoPG) ListUsableByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Grant, error) {
	q := fmt.Sprintf(`SELECT %s FROM access_grants
		WHERE patient_id = $1 AND is_active AND expires_at > $2
		ORDER BY granted_at DESC`, grantCols)
	rows, err := r.conn(ctx).Query(ctx, q, patientID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

// -- Requests --

type RequestRepoPG struct {
	pool *pgxpool.Pool
}

func NewRequestRepoPG(pool *pgxpool.Pool) *RequestRepoPG {
	return &RequestRepoPG{pool: pool}
}

func (r *RequestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const requestCols = `id, patient_id, doctor_id, status, access_level,
	message, response_message, requested_at, response_date`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(
		&req.ID, &req.PatientID, &req.DoctorID, &req.Status, &req.AccessLevel,
		&req.Message, &req.ResponseMessage, &req.RequestedAt, &req.ResponseDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &req, err
}

func (r *RequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	q := fmt.Sprintf("SELECT %s FROM access_requests WHERE id = $1", requestCols)
	return scanRequest(r.conn(ctx).QueryRow(ctx, q, id))
}

// CreatePending inserts a pending request; the partial unique index on
// (patient_id, doctor_id) WHERE status = 'pending' turns a concurrent
// duplicate into ErrConflict.
func (r *RequestRepoPG) CreatePending(ctx context.Context, req *Request) error {
	req.Status = StatusPending
	err := r.insert(ctx, req)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: pending request already exists", ErrConflict)
	}
	return err
}

func (r *RequestRepoPG) Create(ctx context.Context, req *Request) error {
	return r.insert(ctx, req)
}

func (r *RequestRepoPG) insert(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO access_requests
		(id, patient_id, doctor_id, status, access_level, message, response_message, requested_at, response_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.PatientID, req.DoctorID, req.Status, req.AccessLevel,
		req.Message, req.ResponseMessage, req.RequestedAt, req.ResponseDate)
	return err
}

func (r *RequestRepoPG) Update(ctx context.Context, req *Request) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE access_requests SET
			status = $1, response_message = $2, response_date = $3
		WHERE id = $4`,
		req.Status, req.ResponseMessage, req.ResponseDate, req.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RequestRepoPG) FindPending(ctx context.Context, patientID, doctorID uuid.UUID) (*Request, error) {
	q := fmt.Sprintf(`SELECT %s FROM access_requests
		WHERE patient_id = $1 AND doctor_id = $2 AND status = 'pending'`, requestCols)
	return scanRequest(r.conn(ctx).QueryRow(ctx, q, patientID, doctorID))
}

func (r *RequestRepoPG) HasApproved(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM access_requests
			WHERE patient_id = $1 AND doctor_id = $2 AND status = 'approved')`,
		patientID, doctorID).Scan(&exists)
	return exists, err
}

func (r *RequestRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status RequestStatus) ([]*Request, error) {
	q := fmt.Sprintf(`SELECT %s FROM access_requests
		WHERE patient_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC`, requestCols)
	return r.list(ctx, q, patientID, string(status))
}

func (r *RequestRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status RequestStatus) ([]*Request, error) {
	q := fmt.Sprintf(`SELECT %s FROM access_requests
		WHERE doctor_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC`, requestCols)
	return r.list(ctx, q, doctorID, string(status))
}

func (r *RequestRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Request, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

// -- History --

type HistoryRepoPG struct {
	pool *pgxpool.Pool
}

func NewHistoryRepoPG(pool *pgxpool.Pool) *HistoryRepoPG {
	return &HistoryRepoPG{pool: pool}
}

func (r *HistoryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const historyCols = `id, doctor_id, patient_id, full_name, hospital_code, department_code,
	has_active_access, access_revoked_at, created_at, updated_at`

func scanHistory(row pgx.Row) (*History, error) {
	var h History
	err := row.Scan(
		&h.ID, &h.DoctorID, &h.PatientID, &h.FullName, &h.HospitalCode, &h.DepartmentCode,
		&h.HasActiveAccess, &h.AccessRevokedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &h, err
}

func (r *HistoryRepoPG) GetByPair(ctx context.Context, doctorID, patientID uuid.UUID) (*History, error) {
	q := fmt.Sprintf("SELECT %s FROM doctor_patient_history WHERE doctor_id = $1 AND patient_id = $2", historyCols)
	return scanHistory(r.conn(ctx).QueryRow(ctx, q, doctorID, patientID))
}

// Touch upserts the pair's row. Non-empty name/code values refresh the row;
// empty ones leave the stored values alone. The revocation stamp is cleared
// when access is active and preserved otherwise.
func (r *HistoryRepoPG) Touch(ctx context.Context, h *History) error {
	q := fmt.Sprintf(`INSERT INTO doctor_patient_history
		(id, doctor_id, patient_id, full_name, hospital_code, department_code, has_active_access)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'Unknown'),
			COALESCE(NULLIF($5, ''), 'Unknown'), COALESCE(NULLIF($6, ''), 'Unknown'), $7)
		ON CONFLICT (doctor_id, patient_id) DO UPDATE SET
			full_name         = COALESCE(NULLIF(EXCLUDED.full_name, 'Unknown'), doctor_patient_history.full_name),
			hospital_code     = COALESCE(NULLIF(EXCLUDED.hospital_code, 'Unknown'), doctor_patient_history.hospital_code),
			department_code   = COALESCE(NULLIF(EXCLUDED.department_code, 'Unknown'), doctor_patient_history.department_code),
			has_active_access = EXCLUDED.has_active_access,
			access_revoked_at = CASE WHEN EXCLUDED.has_active_access THEN NULL
				ELSE doctor_patient_history.access_revoked_at END,
			updated_at        = NOW()
		RETURNING %s`, historyCols)

	row := r.conn(ctx).QueryRow(ctx, q,
		uuid.New(), h.DoctorID, h.PatientID, h.FullName, h.HospitalCode, h.DepartmentCode, h.HasActiveAccess)
	saved, err := scanHistory(row)
	if err != nil {
		return err
	}
	*h = *saved
	return nil
}

func (r *HistoryRepoPG) MarkRevoked(ctx context.Context, h *History, revokedAt time.Time) error {
	q := fmt.Sprintf(`INSERT INTO doctor_patient_history
		(id, doctor_id, patient_id, full_name, hospital_code, department_code, has_active_access, access_revoked_at)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'Unknown'),
			COALESCE(NULLIF($5, ''), 'Unknown'), COALESCE(NULLIF($6, ''), 'Unknown'), FALSE, $7)
		ON CONFLICT (doctor_id, patient_id) DO UPDATE SET
			has_active_access = FALSE,
			access_revoked_at = EXCLUDED.access_revoked_at,
			updated_at        = NOW()
		RETURNING %s`, historyCols)

	row := r.conn(ctx).QueryRow(ctx, q,
		uuid.New(), h.DoctorID, h.PatientID, h.FullName, h.HospitalCode, h.DepartmentCode, revokedAt)
	saved, err := scanHistory(row)
	if err != nil {
		return err
	}
	*h = *saved
	return nil
}

func (r *HistoryRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*History, error) {
	q := fmt.Sprintf(`SELECT %s FROM doctor_patient_history
		WHERE doctor_id = $1 ORDER BY updated_at DESC`, historyCols)
	rows, err := r.conn(ctx).Query(ctx, q, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}
