package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordType classifies a medical record entry.
type RecordType string

const (
	TypeConsultation RecordType = "consultation"
	TypeLabResult    RecordType = "lab_result"
	TypePrescription RecordType = "prescription"
	TypeImaging      RecordType = "imaging"
	TypeProcedure    RecordType = "procedure"
	TypeVaccination  RecordType = "vaccination"
	TypeOther        RecordType = "other"
)

func ParseRecordType(s string) (RecordType, error) {
	switch RecordType(s) {
	case TypeConsultation, TypeLabResult, TypePrescription, TypeImaging,
		TypeProcedure, TypeVaccination, TypeOther:
		return RecordType(s), nil
	case "":
		return TypeConsultation, nil
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// EncryptedPlaceholder replaces plaintext clinical fields on rows whose
// payload lives in the encrypted envelope.
const EncryptedPlaceholder = "[Encrypted]"

// MedicalRecord maps to the medical_records table. The hospital and
// department codes capture the author's affiliation at write time; they feed
// the location heuristics and never change afterwards.
type MedicalRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID       uuid.UUID `db:"doctor_id" json:"doctor_id"`
	HospitalCode   string    `db:"hospital_code" json:"hospital_code"`
	DepartmentCode string    `db:"department_code" json:"department_code"`
	// SpecialID is a short human-shareable record identifier used for
	// cross-hospital lookups.
	SpecialID string `db:"special_id" json:"special_id"`

	RecordType   RecordType `db:"record_type" json:"record_type"`
	Diagnosis    string     `db:"diagnosis" json:"diagnosis"`
	Prescription string     `db:"prescription" json:"prescription"`
	Notes        string     `db:"notes" json:"notes"`

	VitalSigns    json.RawMessage `db:"vital_signs" json:"vital_signs,omitempty"`
	LabResults    json.RawMessage `db:"lab_results" json:"lab_results,omitempty"`
	TreatmentPlan json.RawMessage `db:"treatment_plan" json:"treatment_plan,omitempty"`
	Medications   json.RawMessage `db:"medications" json:"medications,omitempty"`
	Imaging       json.RawMessage `db:"imaging" json:"imaging,omitempty"`

	IsEncrypted         bool   `db:"is_encrypted" json:"is_encrypted"`
	EncryptedData       string `db:"encrypted_data" json:"-"`
	EncryptedKey        string `db:"encrypted_key" json:"-"`
	Policy              string `db:"policy" json:"policy,omitempty"`
	EncryptionAlgorithm string `db:"encryption_algorithm" json:"encryption_algorithm,omitempty"`

	// PolicyDenied is set on reads when the caller's attributes did not
	// satisfy the record's policy. Never persisted.
	PolicyDenied bool `db:"-" json:"policy_denied,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SensitivePayload is the clinical content sealed in the envelope when a
// record is written encrypted.
type SensitivePayload struct {
	Diagnosis     string          `json:"diagnosis"`
	Prescription  string          `json:"prescription"`
	Notes         string          `json:"notes"`
	VitalSigns    json.RawMessage `json:"vital_signs,omitempty"`
	LabResults    json.RawMessage `json:"lab_results,omitempty"`
	TreatmentPlan json.RawMessage `json:"treatment_plan,omitempty"`
	Medications   json.RawMessage `json:"medications,omitempty"`
	Imaging       json.RawMessage `json:"imaging,omitempty"`
}

// Seal moves the clinical fields into a payload and writes the redaction
// placeholders in their place.
func (r *MedicalRecord) Seal() SensitivePayload {
	p := SensitivePayload{
		Diagnosis:     r.Diagnosis,
		Prescription:  r.Prescription,
		Notes:         r.Notes,
		VitalSigns:    r.VitalSigns,
		LabResults:    r.LabResults,
		TreatmentPlan: r.TreatmentPlan,
		Medications:   r.Medications,
		Imaging:       r.Imaging,
	}
	r.Diagnosis = EncryptedPlaceholder
	r.Prescription = EncryptedPlaceholder
	r.Notes = EncryptedPlaceholder
	r.VitalSigns = nil
	r.LabResults = nil
	r.TreatmentPlan = nil
	r.Medications = nil
	r.Imaging = nil
	return p
}

// Unseal restores the clinical fields from a decrypted payload.
func (r *MedicalRecord) Unseal(p *SensitivePayload) {
	r.Diagnosis = p.Diagnosis
	r.Prescription = p.Prescription
	r.Notes = p.Notes
	r.VitalSigns = p.VitalSigns
	r.LabResults = p.LabResults
	r.TreatmentPlan = p.TreatmentPlan
	r.Medications = p.Medications
	r.Imaging = p.Imaging
}
