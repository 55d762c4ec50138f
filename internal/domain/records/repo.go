package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("records: not found")

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetBySpecialID(ctx context.Context, specialID string) (*MedicalRecord, error)
	Update(ctx context.Context, r *MedicalRecord) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)

	// Location heuristics consumed by the access resolver.
	HasRecordByDoctorAtHospital(ctx context.Context, patientID, doctorID uuid.UUID, hospitalCode string) (bool, error)
	HasRecordInDepartment(ctx context.Context, patientID uuid.UUID, departmentCode string) (bool, error)
}
