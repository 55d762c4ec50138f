package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("identity: not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID string) (*Patient, error)
	// GetByAccessCode matches either the current or the retained legacy code.
	GetByAccessCode(ctx context.Context, code string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// AccessCodeTaken reports whether any patient already holds the code.
	AccessCodeTaken(ctx context.Context, code string) (bool, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID string) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}
