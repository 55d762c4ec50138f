package records

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgrid/medgrid/internal/domain/access"
	"github.com/medgrid/medgrid/internal/domain/identity"
	"github.com/medgrid/medgrid/internal/platform/abe"
	"github.com/medgrid/medgrid/internal/platform/auth"
)

type Service struct {
	repo     Repository
	access   *access.Service
	resolver *access.Resolver
	patients identity.PatientRepository
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	accessSvc *access.Service,
	resolver *access.Resolver,
	patients identity.PatientRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		access:   accessSvc,
		resolver: resolver,
		patients: patients,
		log:      log.With().Str("component", "records").Logger(),
		now:      time.Now,
	}
}

// attrs are the caller's location attributes checked against record policies.
func attrs(hospitalCode, departmentCode string) map[string]string {
	return map[string]string{
		"hospital":   hospitalCode,
		"department": departmentCode,
	}
}

type CreateInput struct {
	PatientID     uuid.UUID       `json:"patient_id"`
	RecordType    string          `json:"record_type"`
	Diagnosis     string          `json:"diagnosis"`
	Prescription  string          `json:"prescription"`
	Notes         string          `json:"notes"`
	VitalSigns    json.RawMessage `json:"vital_signs"`
	LabResults    json.RawMessage `json:"lab_results"`
	TreatmentPlan json.RawMessage `json:"treatment_plan"`
	Medications   json.RawMessage `json:"medications"`
	Imaging       json.RawMessage `json:"imaging"`
	ShouldEncrypt bool            `json:"should_encrypt"`
}

// Create writes a record authored by the doctor. Requires a readWrite grant
// for the patient. When ShouldEncrypt is set the clinical payload is sealed
// under the author's location attributes and the row keeps only placeholders.
func (s *Service) Create(ctx context.Context, doctor *identity.Doctor, in CreateInput) (*MedicalRecord, error) {
	if err := s.access.RequireWriteLevel(ctx, doctor.ID, in.PatientID); err != nil {
		return nil, err
	}
	recordType, err := ParseRecordType(in.RecordType)
	if err != nil {
		return nil, err
	}

	specialID, err := newSpecialID()
	if err != nil {
		return nil, err
	}

	rec := &MedicalRecord{
		PatientID:      in.PatientID,
		DoctorID:       doctor.ID,
		HospitalCode:   doctor.HospitalCode,
		DepartmentCode: doctor.DepartmentCode,
		SpecialID:      specialID,
		RecordType:     recordType,
		Diagnosis:      in.Diagnosis,
		Prescription:   in.Prescription,
		Notes:          in.Notes,
		VitalSigns:     in.VitalSigns,
		LabResults:     in.LabResults,
		TreatmentPlan:  in.TreatmentPlan,
		Medications:    in.Medications,
		Imaging:        in.Imaging,
	}

	if in.ShouldEncrypt {
		if err := s.seal(rec, doctor); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("record_id", rec.ID.String()).
		Str("patient_id", rec.PatientID.String()).
		Bool("encrypted", rec.IsEncrypted).
		Msg("medical record created")
	return rec, nil
}

type UpdateInput struct {
	RecordType    string          `json:"record_type"`
	Diagnosis     string          `json:"diagnosis"`
	Prescription  string          `json:"prescription"`
	Notes         string          `json:"notes"`
	VitalSigns    json.RawMessage `json:"vital_signs"`
	LabResults    json.RawMessage `json:"lab_results"`
	TreatmentPlan json.RawMessage `json:"treatment_plan"`
	Medications   json.RawMessage `json:"medications"`
	Imaging       json.RawMessage `json:"imaging"`
}

// Update overwrites the clinical content of an existing record. Requires a
// readWrite grant for the record's patient. An encrypted record is re-sealed
// under the updating doctor's attributes.
func (s *Service) Update(ctx context.Context, doctor *identity.Doctor, recordID uuid.UUID, in UpdateInput) (*MedicalRecord, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireWriteLevel(ctx, doctor.ID, rec.PatientID); err != nil {
		return nil, err
	}

	if in.RecordType != "" {
		recordType, err := ParseRecordType(in.RecordType)
		if err != nil {
			return nil, err
		}
		rec.RecordType = recordType
	}
	rec.Diagnosis = in.Diagnosis
	rec.Prescription = in.Prescription
	rec.Notes = in.Notes
	rec.VitalSigns = in.VitalSigns
	rec.LabResults = in.LabResults
	rec.TreatmentPlan = in.TreatmentPlan
	rec.Medications = in.Medications
	rec.Imaging = in.Imaging

	if rec.IsEncrypted {
		if err := s.seal(rec, doctor); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) seal(rec *MedicalRecord, doctor *identity.Doctor) error {
	payload := rec.Seal()
	env, err := abe.Encrypt(payload, attrs(doctor.HospitalCode, doctor.DepartmentCode))
	if err != nil {
		return err
	}
	rec.IsEncrypted = true
	rec.EncryptedData = env.EncryptedData
	rec.EncryptedKey = env.EncryptedKey
	rec.Policy = env.Policy
	rec.EncryptionAlgorithm = abe.Algorithm
	return nil
}

// emergencyOverride turns a resolver denial into read-level access when the
// request carries an authenticated break-glass declaration. No grant is
// persisted; the override lives and dies with the request.
func emergencyOverride(ctx context.Context, log zerolog.Logger, doctor *identity.Doctor, patientID uuid.UUID) *access.Resolution {
	if !auth.IsBreakGlass(ctx) {
		return nil
	}
	log.Warn().
		Str("doctor_id", doctor.ID.String()).
		Str("patient_id", patientID.String()).
		Str("reason", auth.BreakGlassReason(ctx)).
		Msg("emergency access override")
	return &access.Resolution{
		Granted:     true,
		Method:      access.MethodEmergency,
		AccessLevel: access.LevelRead,
	}
}

// GetForDoctor returns a single record after resolving the doctor's access to
// its patient. A policy mismatch on an encrypted record surfaces as
// abe.ErrPolicyDenied so callers can distinguish it from absence.
func (s *Service) GetForDoctor(ctx context.Context, doctor *identity.Doctor, recordID uuid.UUID, accessCode string) (*MedicalRecord, *access.Resolution, error) {
	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.resolver.Resolve(ctx, access.ResolveInput{
		DoctorID:       doctor.ID,
		PatientID:      rec.PatientID,
		HospitalCode:   doctor.HospitalCode,
		DepartmentCode: doctor.DepartmentCode,
		AccessCode:     accessCode,
	})
	if err != nil {
		return nil, nil, err
	}
	if !res.Granted {
		if over := emergencyOverride(ctx, s.log, doctor, rec.PatientID); over != nil {
			res = over
		} else {
			return nil, res, access.ErrForbidden
		}
	}

	if rec.IsEncrypted {
		if err := s.unseal(rec, attrs(doctor.HospitalCode, doctor.DepartmentCode)); err != nil {
			return nil, res, err
		}
	}
	return rec, res, nil
}

// ListForDoctor returns a patient's records after resolving access. Encrypted
// records whose policy rejects the caller are included redacted with the
// policy_denied marker rather than dropped.
func (s *Service) ListForDoctor(ctx context.Context, doctor *identity.Doctor, patientID uuid.UUID, accessCode string, limit, offset int) ([]*MedicalRecord, int, *access.Resolution, error) {
	res, err := s.resolver.Resolve(ctx, access.ResolveInput{
		DoctorID:       doctor.ID,
		PatientID:      patientID,
		HospitalCode:   doctor.HospitalCode,
		DepartmentCode: doctor.DepartmentCode,
		AccessCode:     accessCode,
	})
	if err != nil {
		return nil, 0, nil, err
	}
	if !res.Granted {
		if over := emergencyOverride(ctx, s.log, doctor, patientID); over != nil {
			res = over
		} else {
			return nil, 0, res, access.ErrForbidden
		}
	}

	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, res, err
	}
	s.unsealAll(items, attrs(doctor.HospitalCode, doctor.DepartmentCode))
	return items, total, res, nil
}

// ListOwn returns the patient's own records. No resolver runs; encrypted
// payloads stay redacted because patients carry no location attributes.
func (s *Service) ListOwn(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	items, total, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	s.unsealAll(items, map[string]string{})
	return items, total, nil
}

func (s *Service) unsealAll(items []*MedicalRecord, callerAttrs map[string]string) {
	for _, rec := range items {
		if !rec.IsEncrypted {
			continue
		}
		if err := s.unseal(rec, callerAttrs); err != nil {
			if !errors.Is(err, abe.ErrPolicyDenied) {
				s.log.Warn().Err(err).Str("record_id", rec.ID.String()).Msg("record decrypt failed")
			}
			rec.PolicyDenied = true
		}
	}
}

func (s *Service) unseal(rec *MedicalRecord, callerAttrs map[string]string) error {
	env := &abe.Envelope{
		EncryptedData: rec.EncryptedData,
		EncryptedKey:  rec.EncryptedKey,
		Policy:        rec.Policy,
	}
	var payload SensitivePayload
	if err := abe.DecryptInto(env, callerAttrs, &payload); err != nil {
		return err
	}
	rec.Unseal(&payload)
	return nil
}

// LookupInput identifies a patient for a cross-hospital data request. The
// identifier may be a patient UUID, a patient access code, or a record's
// special ID.
type LookupInput struct {
	Identifier string `json:"identifier"`
	AccessCode string `json:"access_code"`
}

// LookupResult carries whichever of the three outcomes the lookup produced:
// a resolved patient with records, a soft "request sent" resolution, or a
// limited history row when the patient is unknown to this installation.
type LookupResult struct {
	Patient    *identity.Patient  `json:"patient,omitempty"`
	Records    []*MedicalRecord   `json:"records,omitempty"`
	Resolution *access.Resolution `json:"resolution,omitempty"`
	History    *access.History    `json:"history,omitempty"`
}

// CrossHospitalLookup implements the cross-hospital access flow: locate the
// patient by any accepted identifier, resolve access, and return records on a
// grant. An unknown identifier falls back to the doctor's own history rows
// before reporting not found.
func (s *Service) CrossHospitalLookup(ctx context.Context, doctor *identity.Doctor, in LookupInput) (*LookupResult, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	patient, err := s.findPatient(ctx, identifier)
	if errors.Is(err, identity.ErrNotFound) || errors.Is(err, ErrNotFound) {
		return s.historyFallback(ctx, doctor, identifier)
	}
	if err != nil {
		return nil, err
	}

	// The identifier is lookup-only even when it happens to be the patient's
	// access code; only the explicit access_code field redeems a code.
	res, err := s.resolver.Resolve(ctx, access.ResolveInput{
		DoctorID:       doctor.ID,
		PatientID:      patient.ID,
		HospitalCode:   doctor.HospitalCode,
		DepartmentCode: doctor.DepartmentCode,
		AccessCode:     in.AccessCode,
	})
	if err != nil {
		return nil, err
	}

	result := &LookupResult{Patient: patient.Redacted(), Resolution: res}
	if !res.Granted {
		return result, nil
	}

	items, _, err := s.repo.ListByPatient(ctx, patient.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	s.unsealAll(items, attrs(doctor.HospitalCode, doctor.DepartmentCode))
	result.Records = items
	return result, nil
}

func (s *Service) findPatient(ctx context.Context, identifier string) (*identity.Patient, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return s.patients.GetByID(ctx, id)
	}
	if p, err := s.patients.GetByAccessCode(ctx, identifier); err == nil {
		return p, nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	rec, err := s.repo.GetBySpecialID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, rec.PatientID)
}

func (s *Service) historyFallback(ctx context.Context, doctor *identity.Doctor, identifier string) (*LookupResult, error) {
	id, err := uuid.Parse(identifier)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := s.access.ListHistory(ctx, doctor.ID)
	if err != nil {
		return nil, err
	}
	for _, h := range rows {
		if h.PatientID == id {
			return &LookupResult{History: h}, nil
		}
	}
	return nil, ErrNotFound
}

// newSpecialID draws a short shareable record identifier, e.g. MR-3F92A1C47B.
func newSpecialID() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate special id: %w", err)
	}
	return "MR-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
