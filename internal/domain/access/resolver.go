package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResolveInput carries one access resolution attempt. HospitalCode and
// DepartmentCode are the requesting doctor's current codes, not the codes
// at any earlier point of contact.
type ResolveInput struct {
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	HospitalCode   string
	DepartmentCode string
	AccessCode     string
}

// attempt is the snapshot a strategy decides over: the input plus the state
// loaded once at the start of resolution.
type attempt struct {
	in      ResolveInput
	patient *PatientProfile
	grant   *Grant // pair grant in any state, nil if none exists
	now     time.Time
}

// strategy inspects an attempt and either returns a verdict or nil to pass
// to the next strategy. Strategies never write; side effects are applied
// once, after the verdict is chosen.
type strategy struct {
	name   string
	decide func(ctx context.Context, a *attempt) (*Resolution, error)
}

// Resolver decides, for a doctor/patient pair, whether access is permitted
// right now and by which method. All dependencies are injected at
// construction.
type Resolver struct {
	grants   GrantRepository
	requests RequestRepository
	history  HistoryRepository
	patients PatientDirectory
	records  RecordTagDirectory
	logger   zerolog.Logger

	strategies []strategy
	now        func() time.Time
}

func NewResolver(
	grants GrantRepository,
	requests RequestRepository,
	history HistoryRepository,
	patients PatientDirectory,
	records RecordTagDirectory,
	logger zerolog.Logger,
) *Resolver {
	r := &Resolver{
		grants:   grants,
		requests: requests,
		history:  history,
		patients: patients,
		records:  records,
		logger:   logger,
		now:      time.Now,
	}

	// Order matters: explicit proof (code, grant) outranks the heuristics,
	// and the heuristics never yield write access.
	r.strategies = []strategy{
		{name: "access_code", decide: r.decideAccessCode},
		{name: "existing_grant", decide: r.decideExistingGrant},
		{name: "same_hospital", decide: r.decideSameHospital},
		{name: "same_department", decide: r.decideSameDepartment},
	}
	return r
}

// Resolve runs the decision strategies in order and applies the chosen
// verdict's side effects. The history row for the pair is upserted before
// returning regardless of outcome. A denial is not an error: the Resolution
// reports it, and err is reserved for storage failures.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*Resolution, error) {
	patient, err := r.patients.AccessProfile(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	grant, err := r.grants.GetByPair(ctx, in.PatientID, in.DoctorID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	a := &attempt{in: in, patient: patient, grant: grant, now: r.now()}

	res := r.decide(ctx, a)

	if err := r.applyEffects(ctx, a, res); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("doctor_id", in.DoctorID.String()).
		Str("patient_id", in.PatientID.String()).
		Bool("granted", res.Granted).
		Str("method", string(res.Method)).
		Msg("access resolved")

	return res, nil
}

// decide runs the strategies first-match-wins, falling through to the two
// denial outcomes: soft "request sent" when no code was supplied, hard deny
// when a code was supplied and matched nothing.
func (r *Resolver) decide(ctx context.Context, a *attempt) *Resolution {
	for _, s := range r.strategies {
		res, err := s.decide(ctx, a)
		if err != nil {
			// A failed lookup must not grant access; log and try the next
			// strategy so a storage hiccup degrades to a denial.
			r.logger.Error().Err(err).Str("strategy", s.name).Msg("strategy lookup failed")
			continue
		}
		if res != nil {
			return res
		}
	}

	if a.in.AccessCode == "" {
		return &Resolution{Granted: false, Method: MethodRequestSent}
	}
	return &Resolution{Granted: false, Method: MethodDenied}
}

func (r *Resolver) decideAccessCode(_ context.Context, a *attempt) (*Resolution, error) {
	code := a.in.AccessCode
	if code == "" {
		return nil, nil
	}
	if code != a.patient.AccessCode &&
		(a.patient.LegacyAccessCode == "" || code != a.patient.LegacyAccessCode) {
		return nil, nil
	}
	return &Resolution{Granted: true, Method: MethodAccessCode, AccessLevel: LevelReadWrite}, nil
}

func (r *Resolver) decideExistingGrant(_ context.Context, a *attempt) (*Resolution, error) {
	if a.grant == nil || !a.grant.Usable(a.now) {
		return nil, nil
	}
	return &Resolution{Granted: true, Method: MethodExistingGrant, AccessLevel: a.grant.AccessLevel}, nil
}

func (r *Resolver) decideSameHospital(ctx context.Context, a *attempt) (*Resolution, error) {
	ok, err := r.records.HasRecordByDoctorAtHospital(ctx, a.in.PatientID, a.in.DoctorID, a.in.HospitalCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Resolution{Granted: true, Method: MethodSameHospital, AccessLevel: LevelRead}, nil
}

func (r *Resolver) decideSameDepartment(ctx context.Context, a *attempt) (*Resolution, error) {
	ok, err := r.records.HasRecordInDepartment(ctx, a.in.PatientID, a.in.DepartmentCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Resolution{Granted: true, Method: MethodSameDepartment, AccessLevel: LevelRead}, nil
}

// applyEffects performs the verdict's side effects: the unconditional
// history upsert, then the method-specific grant and request writes.
func (r *Resolver) applyEffects(ctx context.Context, a *attempt, res *Resolution) error {
	if err := r.history.Touch(ctx, &History{
		DoctorID:        a.in.DoctorID,
		PatientID:       a.in.PatientID,
		FullName:        a.patient.FullName,
		HospitalCode:    a.in.HospitalCode,
		DepartmentCode:  a.in.DepartmentCode,
		HasActiveAccess: res.Granted,
	}); err != nil {
		return fmt.Errorf("touch history: %w", err)
	}

	switch res.Method {
	case MethodAccessCode:
		return r.persistCodeRedemption(ctx, a)
	case MethodRequestSent:
		return r.ensurePendingRequest(ctx, a)
	case MethodExistingGrant, MethodSameHospital, MethodSameDepartment, MethodDenied:
		// Heuristic grants are never persisted; a mismatched code creates
		// nothing.
		return nil
	default:
		return fmt.Errorf("unknown resolution method %q", res.Method)
	}
}

// persistCodeRedemption creates or reactivates the pair's grant at readWrite
// with a fresh one-year expiry, and writes the auto-approved request that
// records why the grant exists even though no approval cycle happened.
func (r *Resolver) persistCodeRedemption(ctx context.Context, a *attempt) error {
	expiresAt := a.now.AddDate(0, 0, AccessCodeGrantDays)

	if a.grant == nil || !a.grant.IsActive {
		if err := r.grants.Upsert(ctx, &Grant{
			PatientID:   a.in.PatientID,
			DoctorID:    a.in.DoctorID,
			AccessLevel: LevelReadWrite,
			IsActive:    true,
			GrantedAt:   a.now,
			ExpiresAt:   expiresAt,
		}); err != nil {
			return fmt.Errorf("upsert grant: %w", err)
		}
	}

	approved, err := r.requests.HasApproved(ctx, a.in.PatientID, a.in.DoctorID)
	if err != nil {
		return fmt.Errorf("check approved request: %w", err)
	}
	if approved {
		return nil
	}

	responseDate := a.now
	if err := r.requests.Create(ctx, &Request{
		PatientID:       a.in.PatientID,
		DoctorID:        a.in.DoctorID,
		Status:          StatusApproved,
		AccessLevel:     LevelReadWrite,
		Message:         fmt.Sprintf("Access requested using access code on %s", a.now.Format("2006-01-02")),
		ResponseMessage: "Auto-approved via access code",
		RequestedAt:     a.now,
		ResponseDate:    &responseDate,
	}); err != nil {
		return fmt.Errorf("record code redemption: %w", err)
	}
	return nil
}

// ensurePendingRequest creates the pending request for the soft-deny path.
// A uniqueness conflict means a concurrent attempt already created one;
// that is the desired state, not an error.
func (r *Resolver) ensurePendingRequest(ctx context.Context, a *attempt) error {
	err := r.requests.CreatePending(ctx, &Request{
		PatientID:   a.in.PatientID,
		DoctorID:    a.in.DoctorID,
		Status:      StatusPending,
		AccessLevel: LevelRead,
		Message:     fmt.Sprintf("Access requested on %s", a.now.Format("2006-01-02")),
		RequestedAt: a.now,
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("create pending request: %w", err)
	}
	return nil
}
