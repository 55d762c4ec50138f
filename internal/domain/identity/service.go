package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if p.AccessCode == "" {
		code, err := s.uniqueAccessCode(ctx)
		if err != nil {
			return err
		}
		p.AccessCode = code
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByUser(ctx context.Context, userID string) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) GetPatientByAccessCode(ctx context.Context, code string) (*Patient, error) {
	return s.patients.GetByAccessCode(ctx, code)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	return s.patients.Update(ctx, p)
}

// RegenerateAccessCode issues a fresh unique code and retains the previous
// one as the legacy code, so codes already shared with a trusted doctor keep
// working until the next rotation.
func (s *Service) RegenerateAccessCode(ctx context.Context, patientID uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	code, err := s.uniqueAccessCode(ctx)
	if err != nil {
		return nil, err
	}

	old := p.AccessCode
	p.LegacyAccessCode = &old
	p.AccessCode = code
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctorByUser(ctx context.Context, userID string) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	return s.doctors.Update(ctx, d)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

// accessCodeDigits is the length of the patient-controlled shared secret.
const accessCodeDigits = 12

// uniqueAccessCode draws random 12-digit codes until one is unclaimed. The
// keyspace makes more than one round rare.
func (s *Service) uniqueAccessCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < 10; attempts++ {
		code, err := generateAccessCode()
		if err != nil {
			return "", err
		}
		taken, err := s.patients.AccessCodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique access code")
}

func generateAccessCode() (string, error) {
	// 12 digits, no leading zero: [100000000000, 999999999999].
	span := new(big.Int).SetInt64(9e11)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate access code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+1e11), nil
}
