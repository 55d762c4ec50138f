package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type pairKey struct {
	patientID uuid.UUID
	doctorID  uuid.UUID
}

type memGrants struct {
	byPair map[pairKey]*Grant
}

func newMemGrants() *memGrants {
	return &memGrants{byPair: make(map[pairKey]*Grant)}
}

func (m *memGrants) GetByPair(_ context.Context, patientID, doctorID uuid.UUID) (*Grant, error) {
	g, ok := m.byPair[pairKey{patientID, doctorID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGrants) GetUsable(ctx context.Context, patientID, doctorID uuid.UUID, now time.Time) (*Grant, error) {
	g, err := m.GetByPair(ctx, patientID, doctorID)
	if err != nil {
		return nil, err
	}
	if !g.Usable(now) {
		return nil, ErrNotFound
	}
	return g, nil
}

func (m *memGrants) Upsert(_ context.Context, g *Grant) error {
	key := pairKey{g.PatientID, g.DoctorID}
	if existing, ok := m.byPair[key]; ok {
		g.ID = existing.ID
	} else if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	m.byPair[key] = &cp
	return nil
}

func (m *memGrants) Update(_ context.Context, g *Grant) error {
	for key, existing := range m.byPair {
		if existing.ID == g.ID {
			cp := *g
			m.byPair[key] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memGrants) ListUsableByPatient(_ context.Context, patientID uuid.UUID, now time.Time) ([]*Grant, error) {
	var out []*Grant
	for key, g := range m.byPair {
		if key.patientID == patientID && g.Usable(now) {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRequests struct {
	items []*Request
}

func newMemRequests() *memRequests {
	return &memRequests{}
}

func (m *memRequests) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	for _, r := range m.items {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRequests) CreatePending(ctx context.Context, r *Request) error {
	if _, err := m.FindPending(ctx, r.PatientID, r.DoctorID); err == nil {
		return fmt.Errorf("%w: pending request already exists", ErrConflict)
	}
	r.Status = StatusPending
	return m.Create(ctx, r)
}

func (m *memRequests) Create(_ context.Context, r *Request) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	m.items = append(m.items, &cp)
	return nil
}

func (m *memRequests) Update(_ context.Context, r *Request) error {
	for i, existing := range m.items {
		if existing.ID == r.ID {
			cp := *r
			m.items[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *memRequests) FindPending(_ context.Context, patientID, doctorID uuid.UUID) (*Request, error) {
	for _, r := range m.items {
		if r.PatientID == patientID && r.DoctorID == doctorID && r.Status == StatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRequests) HasApproved(_ context.Context, patientID, doctorID uuid.UUID) (bool, error) {
	for _, r := range m.items {
		if r.PatientID == patientID && r.DoctorID == doctorID && r.Status == StatusApproved {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRequests) ListByPatient(_ context.Context, patientID uuid.UUID, status RequestStatus) ([]*Request, error) {
	var out []*Request
	for _, r := range m.items {
		if r.PatientID == patientID && (status == "" || r.Status == status) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRequests) ListByDoctor(_ context.Context, doctorID uuid.UUID, status RequestStatus) ([]*Request, error) {
	var out []*Request
	for _, r := range m.items {
		if r.DoctorID == doctorID && (status == "" || r.Status == status) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// pending counts requests in pending status for a pair.
func (m *memRequests) pending(patientID, doctorID uuid.UUID) int {
	n := 0
	for _, r := range m.items {
		if r.PatientID == patientID && r.DoctorID == doctorID && r.Status == StatusPending {
			n++
		}
	}
	return n
}

type memHistory struct {
	byPair map[pairKey]*History
}

func newMemHistory() *memHistory {
	return &memHistory{byPair: make(map[pairKey]*History)}
}

func (m *memHistory) GetByPair(_ context.Context, doctorID, patientID uuid.UUID) (*History, error) {
	h, ok := m.byPair[pairKey{patientID, doctorID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *memHistory) Touch(_ context.Context, h *History) error {
	key := pairKey{h.PatientID, h.DoctorID}
	existing, ok := m.byPair[key]
	if !ok {
		cp := *h
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		m.byPair[key] = &cp
		*h = cp
		return nil
	}

	if h.FullName != "" {
		existing.FullName = h.FullName
	}
	if h.HospitalCode != "" {
		existing.HospitalCode = h.HospitalCode
	}
	if h.DepartmentCode != "" {
		existing.DepartmentCode = h.DepartmentCode
	}
	existing.HasActiveAccess = h.HasActiveAccess
	if h.HasActiveAccess {
		existing.AccessRevokedAt = nil
	}
	*h = *existing
	return nil
}

func (m *memHistory) MarkRevoked(_ context.Context, h *History, revokedAt time.Time) error {
	key := pairKey{h.PatientID, h.DoctorID}
	existing, ok := m.byPair[key]
	if !ok {
		cp := *h
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		existing = &cp
		m.byPair[key] = existing
	}
	existing.HasActiveAccess = false
	existing.AccessRevokedAt = &revokedAt
	*h = *existing
	return nil
}

func (m *memHistory) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*History, error) {
	var out []*History
	for key, h := range m.byPair {
		if key.doctorID == doctorID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memPatients struct {
	byID map[uuid.UUID]*PatientProfile
}

func newMemPatients() *memPatients {
	return &memPatients{byID: make(map[uuid.UUID]*PatientProfile)}
}

func (m *memPatients) add(p *PatientProfile) {
	m.byID[p.ID] = p
}

func (m *memPatients) AccessProfile(_ context.Context, patientID uuid.UUID) (*PatientProfile, error) {
	p, ok := m.byID[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type memRecords struct {
	hospitalPairs   map[string]bool // patientID|doctorID|hospitalCode
	departmentPairs map[string]bool // patientID|departmentCode
	err             error
}

func newMemRecords() *memRecords {
	return &memRecords{
		hospitalPairs:   make(map[string]bool),
		departmentPairs: make(map[string]bool),
	}
}

func (m *memRecords) tagHospital(patientID, doctorID uuid.UUID, hospitalCode string) {
	m.hospitalPairs[patientID.String()+"|"+doctorID.String()+"|"+hospitalCode] = true
}

func (m *memRecords) tagDepartment(patientID uuid.UUID, departmentCode string) {
	m.departmentPairs[patientID.String()+"|"+departmentCode] = true
}

func (m *memRecords) HasRecordByDoctorAtHospital(_ context.Context, patientID, doctorID uuid.UUID, hospitalCode string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.hospitalPairs[patientID.String()+"|"+doctorID.String()+"|"+hospitalCode], nil
}

func (m *memRecords) HasRecordInDepartment(_ context.Context, patientID uuid.UUID, departmentCode string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.departmentPairs[patientID.String()+"|"+departmentCode], nil
}
