package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. UserID links the profile to the
// externally managed authentication account.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	FullName         string     `db:"full_name" json:"full_name"`
	DateOfBirth      *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	ContactNo        string     `db:"contact_no" json:"contact_no"`
	Address          string     `db:"address" json:"address"`
	AccessCode       string     `db:"access_code" json:"access_code,omitempty"`
	LegacyAccessCode *string    `db:"legacy_access_code" json:"-"`
	ProfilePhoto     *string    `db:"profile_photo" json:"profile_photo,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Redacted returns a copy safe to show to callers who have not proven
// access: the shared-secret codes are stripped.
func (p *Patient) Redacted() *Patient {
	c := *p
	c.AccessCode = ""
	c.LegacyAccessCode = nil
	return &c
}

// Doctor maps to the doctors table. Hospital and department codes are the
// doctor's current affiliation; record tags capture the affiliation at the
// time a record was written.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	FullName       string    `db:"full_name" json:"full_name"`
	Specialization string    `db:"specialization" json:"specialization"`
	HospitalCode   string    `db:"hospital_code" json:"hospital_code"`
	DepartmentCode string    `db:"department_code" json:"department_code"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
