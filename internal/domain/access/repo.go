package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type GrantRepository interface {
	// GetByPair returns the grant for the pair in any state, or ErrNotFound.
	GetByPair(ctx context.Context, patientID, doctorID uuid.UUID) (*Grant, error)
	// GetUsable returns the active, unexpired grant for the pair, or ErrNotFound.
	GetUsable(ctx context.Context, patientID, doctorID uuid.UUID, now time.Time) (*Grant, error)
	// Upsert atomically creates the grant or overwrites access_level,
	// expires_at and is_active for the existing (patient_id, doctor_id) row.
	Upsert(ctx context.Context, g *Grant) error
	// Update persists in-place mutations (downgrade, deactivate).
	Update(ctx context.Context, g *Grant) error
	ListUsableByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Grant, error)
}

type RequestRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	// CreatePending inserts a pending request. A uniqueness violation on the
	// pending-per-pair constraint is surfaced as ErrConflict so callers can
	// treat it as "already pending".
	CreatePending(ctx context.Context, r *Request) error
	// Create inserts a request in any status (used for the auto-approved
	// audit artifact written on access-code redemption).
	Create(ctx context.Context, r *Request) error
	Update(ctx context.Context, r *Request) error
	FindPending(ctx context.Context, patientID, doctorID uuid.UUID) (*Request, error)
	HasApproved(ctx context.Context, patientID, doctorID uuid.UUID) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, status RequestStatus) ([]*Request, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, status RequestStatus) ([]*Request, error)
}

type HistoryRepository interface {
	GetByPair(ctx context.Context, doctorID, patientID uuid.UUID) (*History, error)
	// Touch atomically creates or refreshes the pair's history row keyed by
	// the unique (doctor_id, patient_id) index. When h.HasActiveAccess is
	// true the revocation timestamp is cleared; when false an existing
	// timestamp is preserved. Empty name/code fields never overwrite
	// previously recorded values.
	Touch(ctx context.Context, h *History) error
	// MarkRevoked stamps the pair as revoked: has_active_access false,
	// access_revoked_at set. Creates the row if it does not exist.
	MarkRevoked(ctx context.Context, h *History, revokedAt time.Time) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*History, error)
}

// PatientProfile is the slice of patient identity the resolver needs:
// the shared-secret codes and the denormalized display fields written into
// history rows.
type PatientProfile struct {
	ID               uuid.UUID
	FullName         string
	AccessCode       string
	LegacyAccessCode string
}

// PatientDirectory supplies patient identity to the resolver. Implemented by
// the identity domain; injected so this package owns no patient storage.
type PatientDirectory interface {
	AccessProfile(ctx context.Context, patientID uuid.UUID) (*PatientProfile, error)
}

// RecordTagDirectory answers the two heuristic questions the resolver asks of
// the medical-record store: prior treatment at the doctor's current hospital,
// and any record tagged with the doctor's current department.
type RecordTagDirectory interface {
	HasRecordByDoctorAtHospital(ctx context.Context, patientID, doctorID uuid.UUID, hospitalCode string) (bool, error)
	HasRecordInDepartment(ctx context.Context, patientID uuid.UUID, departmentCode string) (bool, error)
}
