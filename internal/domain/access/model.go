package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessLevel is the permission tier carried by a grant.
type AccessLevel string

const (
	LevelRead      AccessLevel = "read"
	LevelReadWrite AccessLevel = "readWrite"
)

// ParseAccessLevel validates a raw level string, defaulting empty input to
// readWrite (the grant paths treat "unspecified" as full access, matching
// the patient-facing grant and approval flows).
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch AccessLevel(s) {
	case "":
		return LevelReadWrite, nil
	case LevelRead, LevelReadWrite:
		return AccessLevel(s), nil
	default:
		return "", fmt.Errorf("invalid access level %q", s)
	}
}

// RequestStatus tracks the lifecycle of an access request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// ParseRequestStatus validates a raw status filter. Empty input means no
// filter and maps to the zero value.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch RequestStatus(s) {
	case "":
		return "", nil
	case StatusPending, StatusApproved, StatusRejected:
		return RequestStatus(s), nil
	default:
		return "", fmt.Errorf("invalid request status %q", s)
	}
}

// Default grant lifetimes. Code-redeemed grants last a year; everything else
// defaults to 30 days.
const (
	DefaultGrantDays    = 30
	AccessCodeGrantDays = 365
)

// Grant is the durable permission record for a doctor/patient pair. There is
// at most one per pair; it mutates in place and is never physically deleted.
type Grant struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	PatientID   uuid.UUID   `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID   `db:"doctor_id" json:"doctor_id"`
	AccessLevel AccessLevel `db:"access_level" json:"access_level"`
	IsActive    bool        `db:"is_active" json:"is_active"`
	GrantedAt   time.Time   `db:"granted_at" json:"granted_at"`
	ExpiresAt   time.Time   `db:"expires_at" json:"expires_at"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Usable reports whether the grant permits access right now. Expiry is
// evaluated lazily here; there is no background sweep.
func (g *Grant) Usable(now time.Time) bool {
	return g.IsActive && g.ExpiresAt.After(now)
}

// Request is the audit-visible ask-and-answer record explaining why a grant
// does or doesn't exist. At most one pending request per pair at a time.
type Request struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID     `db:"doctor_id" json:"doctor_id"`
	Status          RequestStatus `db:"status" json:"status"`
	AccessLevel     AccessLevel   `db:"access_level" json:"access_level"`
	Message         string        `db:"message" json:"message"`
	ResponseMessage string        `db:"response_message" json:"response_message"`
	RequestedAt     time.Time     `db:"requested_at" json:"requested_at"`
	ResponseDate    *time.Time    `db:"response_date" json:"response_date,omitempty"`
}

// History is the permanent relationship ledger: one row per doctor/patient
// pair, created on first contact and never deleted, even after full
// revocation. It is the only place a doctor can discover patients whose
// access has since been revoked.
type History struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	FullName        string     `db:"full_name" json:"full_name"`
	HospitalCode    string     `db:"hospital_code" json:"hospital_code"`
	DepartmentCode  string     `db:"department_code" json:"department_code"`
	HasActiveAccess bool       `db:"has_active_access" json:"has_active_access"`
	AccessRevokedAt *time.Time `db:"access_revoked_at" json:"access_revoked_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Method identifies which resolution path granted (or denied) access.
type Method string

const (
	MethodAccessCode     Method = "access_code"
	MethodExistingGrant  Method = "existing_grant"
	MethodSameHospital   Method = "same_hospital"
	MethodSameDepartment Method = "same_department"
	// MethodRequestSent marks the soft-deny outcome: no access, no code, a
	// pending request was created (or already existed).
	MethodRequestSent Method = "request_sent"
	// MethodEmergency marks a break-glass override: the resolver denied but
	// the request carried an authenticated emergency declaration, so read
	// access is granted without persisting a grant.
	MethodEmergency Method = "emergency"
	// MethodDenied marks the hard-deny outcome: a code was supplied and did
	// not match.
	MethodDenied Method = "denied"
)

// Resolution is the outcome of an access resolution attempt.
type Resolution struct {
	Granted     bool        `json:"granted"`
	Method      Method      `json:"method"`
	AccessLevel AccessLevel `json:"access_level,omitempty"`
}
