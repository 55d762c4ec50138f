package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgrid/medgrid/internal/domain/audit"
	"github.com/medgrid/medgrid/internal/domain/identity"
	"github.com/medgrid/medgrid/internal/platform/middleware"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakePatientRepo struct {
	byID   map[uuid.UUID]*identity.Patient
	byCode map[string]*identity.Patient
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{
		byID:   make(map[uuid.UUID]*identity.Patient),
		byCode: make(map[string]*identity.Patient),
	}
}

func (r *fakePatientRepo) add(p *identity.Patient) {
	r.byID[p.ID] = p
	if p.AccessCode != "" {
		r.byCode[p.AccessCode] = p
	}
	if p.LegacyAccessCode != nil {
		r.byCode[*p.LegacyAccessCode] = p
	}
}

func (r *fakePatientRepo) Create(ctx context.Context, p *identity.Patient) error {
	r.add(p)
	return nil
}

func (r *fakePatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (r *fakePatientRepo) GetByUserID(ctx context.Context, userID string) (*identity.Patient, error) {
	for _, p := range r.byID {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r *fakePatientRepo) GetByAccessCode(ctx context.Context, code string) (*identity.Patient, error) {
	p, ok := r.byCode[code]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (r *fakePatientRepo) Update(ctx context.Context, p *identity.Patient) error {
	r.add(p)
	return nil
}

func (r *fakePatientRepo) AccessCodeTaken(ctx context.Context, code string) (bool, error) {
	_, ok := r.byCode[code]
	return ok, nil
}

type fakeDoctorRepo struct {
	byID map[uuid.UUID]*identity.Doctor
}

func (r *fakeDoctorRepo) Create(ctx context.Context, d *identity.Doctor) error {
	r.byID[d.ID] = d
	return nil
}

func (r *fakeDoctorRepo) GetByID(ctx context.Context, id uuid.UUID) (*identity.Doctor, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return d, nil
}

func (r *fakeDoctorRepo) GetByUserID(ctx context.Context, userID string) (*identity.Doctor, error) {
	for _, d := range r.byID {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r *fakeDoctorRepo) Update(ctx context.Context, d *identity.Doctor) error {
	r.byID[d.ID] = d
	return nil
}

func (r *fakeDoctorRepo) List(ctx context.Context, limit, offset int) ([]*identity.Doctor, int, error) {
	var out []*identity.Doctor
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out, len(out), nil
}

type fakeAuditRepo struct {
	events []*audit.Event
}

func (r *fakeAuditRepo) Create(ctx context.Context, e *audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

// ---------------------------------------------------------------------------
// PrincipalAdapter tests
// ---------------------------------------------------------------------------

func newTestIdentityService(patients *fakePatientRepo) *identity.Service {
	return identity.NewService(patients, &fakeDoctorRepo{byID: make(map[uuid.UUID]*identity.Doctor)})
}

func TestPrincipalAdapter_PatientIDByIdentifier_UUID(t *testing.T) {
	patients := newFakePatientRepo()
	p := &identity.Patient{ID: uuid.New(), FullName: "Asha Rao", AccessCode: "123456789012"}
	patients.add(p)

	adapter := NewPrincipalAdapter(newTestIdentityService(patients))

	got, err := adapter.PatientIDByIdentifier(context.Background(), p.ID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p.ID {
		t.Errorf("expected %s, got %s", p.ID, got)
	}
}

func TestPrincipalAdapter_PatientIDByIdentifier_AccessCode(t *testing.T) {
	patients := newFakePatientRepo()
	p := &identity.Patient{ID: uuid.New(), FullName: "Asha Rao", AccessCode: "123456789012"}
	patients.add(p)

	adapter := NewPrincipalAdapter(newTestIdentityService(patients))

	got, err := adapter.PatientIDByIdentifier(context.Background(), "123456789012")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p.ID {
		t.Errorf("expected %s, got %s", p.ID, got)
	}
}

func TestPrincipalAdapter_PatientIDByIdentifier_Unknown(t *testing.T) {
	adapter := NewPrincipalAdapter(newTestIdentityService(newFakePatientRepo()))

	_, err := adapter.PatientIDByIdentifier(context.Background(), "999999999999")
	if err == nil {
		t.Fatal("expected error for unknown identifier")
	}
}

// ---------------------------------------------------------------------------
// PatientDirectoryAdapter tests
// ---------------------------------------------------------------------------

func TestPatientDirectoryAdapter_MapsLegacyCode(t *testing.T) {
	patients := newFakePatientRepo()
	legacy := "444455556666"
	p := &identity.Patient{
		ID:               uuid.New(),
		FullName:         "Asha Rao",
		AccessCode:       "111122223333",
		LegacyAccessCode: &legacy,
	}
	patients.add(p)

	adapter := NewPatientDirectoryAdapter(patients)

	profile, err := adapter.AccessProfile(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.AccessCode != "111122223333" {
		t.Errorf("expected current code, got %q", profile.AccessCode)
	}
	if profile.LegacyAccessCode != legacy {
		t.Errorf("expected legacy code %q, got %q", legacy, profile.LegacyAccessCode)
	}
}

func TestPatientDirectoryAdapter_NoLegacyCode(t *testing.T) {
	patients := newFakePatientRepo()
	p := &identity.Patient{ID: uuid.New(), FullName: "Asha Rao", AccessCode: "111122223333"}
	patients.add(p)

	adapter := NewPatientDirectoryAdapter(patients)

	profile, err := adapter.AccessProfile(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.LegacyAccessCode != "" {
		t.Errorf("expected empty legacy code, got %q", profile.LegacyAccessCode)
	}
}

// ---------------------------------------------------------------------------
// AuditServiceAdapter tests
// ---------------------------------------------------------------------------

func TestAuditServiceAdapter_MapsEntry(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := audit.NewService(repo, zerolog.Nop())
	adapter := NewAuditServiceAdapter(svc)

	patientID := uuid.New()
	ts := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	entry := middleware.AuditEntry{
		UserID:       "user-1",
		Role:         "doctor",
		ResourceType: "records",
		PatientID:    patientID.String(),
		Action:       "read",
		Path:         "/api/v1/records/abc",
		Method:       "GET",
		StatusCode:   200,
		IPAddress:    "10.0.0.1",
		UserAgent:    "test-agent",
		RequestID:    "req-1",
		Timestamp:    ts,
	}

	if err := adapter.RecordAccess(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(repo.events))
	}
	e := repo.events[0]
	if e.UserID != "user-1" || e.Role != "doctor" || e.Action != "read" {
		t.Errorf("unexpected principal fields: %+v", e)
	}
	if e.PatientID == nil || *e.PatientID != patientID {
		t.Errorf("expected patient id %s, got %v", patientID, e.PatientID)
	}
	if !e.Recorded.Equal(ts) {
		t.Errorf("expected recorded time %v, got %v", ts, e.Recorded)
	}
}

func TestAuditServiceAdapter_IgnoresInvalidPatientID(t *testing.T) {
	repo := &fakeAuditRepo{}
	svc := audit.NewService(repo, zerolog.Nop())
	adapter := NewAuditServiceAdapter(svc)

	entry := middleware.AuditEntry{
		UserID:    "user-1",
		PatientID: "not-a-uuid",
		Timestamp: time.Now(),
	}

	if err := adapter.RecordAccess(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(repo.events))
	}
	if repo.events[0].PatientID != nil {
		t.Error("expected nil patient id for unparseable identifier")
	}
}
