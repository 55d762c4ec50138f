package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one recorded data-access action: who touched which resource, how,
// and with what outcome. Rows are append-only.
type Event struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Role         string     `db:"role" json:"role"`
	Action       string     `db:"action" json:"action"` // read, create, update, delete
	ResourceType string     `db:"resource_type" json:"resource_type"`
	PatientID    *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Path         string     `db:"path" json:"path"`
	Method       string     `db:"method" json:"method"`
	StatusCode   int        `db:"status_code" json:"status_code"`
	IPAddress    string     `db:"ip_address" json:"ip_address"`
	UserAgent    string     `db:"user_agent" json:"user_agent"`
	RequestID    string     `db:"request_id" json:"request_id"`
	Recorded     time.Time  `db:"recorded" json:"recorded"`
}
