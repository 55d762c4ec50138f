package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service exposes the patient- and doctor-facing management operations over
// the grant store, request ledger and relationship history.
type Service struct {
	grants   GrantRepository
	requests RequestRepository
	history  HistoryRepository
	patients PatientDirectory
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(
	grants GrantRepository,
	requests RequestRepository,
	history HistoryRepository,
	patients PatientDirectory,
	logger zerolog.Logger,
) *Service {
	return &Service{
		grants:   grants,
		requests: requests,
		history:  history,
		patients: patients,
		logger:   logger,
		now:      time.Now,
	}
}

// GrantInput is a patient-initiated grant (or refresh) of doctor access.
type GrantInput struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	AccessLevel AccessLevel // empty defaults to readWrite
	ExpiryDays  int         // <= 0 defaults to 30
}

// Grant creates or fully overwrites the pair's grant: level, expiry and
// is_active are reset, and the history row is refreshed to active. The
// operation is idempotent.
func (s *Service) Grant(ctx context.Context, in GrantInput) (*Grant, error) {
	level := in.AccessLevel
	if level == "" {
		level = LevelReadWrite
	}
	days := in.ExpiryDays
	if days <= 0 {
		days = DefaultGrantDays
	}

	now := s.now()
	g := &Grant{
		PatientID:   in.PatientID,
		DoctorID:    in.DoctorID,
		AccessLevel: level,
		IsActive:    true,
		GrantedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, days),
	}
	if err := s.grants.Upsert(ctx, g); err != nil {
		return nil, fmt.Errorf("upsert grant: %w", err)
	}

	if err := s.touchHistoryActive(ctx, in.DoctorID, in.PatientID); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", in.PatientID.String()).
		Str("doctor_id", in.DoctorID.String()).
		Str("access_level", string(level)).
		Msg("access granted")
	return g, nil
}

// Revoke is the two-step soft-then-hard revoke state machine. A readWrite
// grant is downgraded to read and stays active; a read grant is deactivated
// and the history row is stamped revoked. A single call therefore never
// fully revokes a readWrite grant. Revoking an already inactive grant
// returns ErrNotFound and leaves state untouched.
func (s *Service) Revoke(ctx context.Context, patientID, doctorID uuid.UUID) (*Grant, error) {
	g, err := s.grants.GetByPair(ctx, patientID, doctorID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, ErrNotFound
	}

	if g.AccessLevel == LevelReadWrite {
		g.AccessLevel = LevelRead
		if err := s.grants.Update(ctx, g); err != nil {
			return nil, fmt.Errorf("downgrade grant: %w", err)
		}
		if err := s.touchHistoryActive(ctx, doctorID, patientID); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("patient_id", patientID.String()).
			Str("doctor_id", doctorID.String()).
			Msg("access downgraded to read-only")
		return g, nil
	}

	g.IsActive = false
	if err := s.grants.Update(ctx, g); err != nil {
		return nil, fmt.Errorf("deactivate grant: %w", err)
	}

	now := s.now()
	h := &History{
		DoctorID:        doctorID,
		PatientID:       patientID,
		HasActiveAccess: false,
	}
	if p, perr := s.patients.AccessProfile(ctx, patientID); perr == nil {
		h.FullName = p.FullName
	}
	if err := s.history.MarkRevoked(ctx, h, now); err != nil {
		return nil, fmt.Errorf("mark history revoked: %w", err)
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("access fully revoked")
	return g, nil
}

// RespondToRequest transitions a pending request to approved or rejected.
// Approval upserts the grant at the requested (or default readWrite) level
// with a fresh 30-day expiry. The patientID must own the request.
func (s *Service) RespondToRequest(ctx context.Context, patientID, requestID uuid.UUID, status RequestStatus, responseMessage string) (*Request, error) {
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("%w: status must be approved or rejected", ErrConflict)
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		return nil, ErrForbidden
	}
	if req.Status != StatusPending {
		// A request is responded to exactly once.
		return nil, ErrNotFound
	}

	now := s.now()
	req.Status = status
	req.ResponseMessage = responseMessage
	req.ResponseDate = &now
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	if status == StatusApproved {
		level := req.AccessLevel
		if level == "" {
			level = LevelReadWrite
		}
		if err := s.grants.Upsert(ctx, &Grant{
			PatientID:   patientID,
			DoctorID:    req.DoctorID,
			AccessLevel: level,
			IsActive:    true,
			GrantedAt:   now,
			ExpiresAt:   now.AddDate(0, 0, DefaultGrantDays),
		}); err != nil {
			return nil, fmt.Errorf("upsert grant on approval: %w", err)
		}
		if err := s.touchHistoryActive(ctx, req.DoctorID, patientID); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("request_id", requestID.String()).
		Str("status", string(status)).
		Msg("access request answered")
	return req, nil
}

// RequestAccess is the explicit doctor-initiated ask. It refuses when a
// pending request or a usable grant already exists.
func (s *Service) RequestAccess(ctx context.Context, patientID, doctorID uuid.UUID, level AccessLevel, message string) (*Request, error) {
	if _, err := s.requests.FindPending(ctx, patientID, doctorID); err == nil {
		return nil, fmt.Errorf("%w: a pending request already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := s.grants.GetUsable(ctx, patientID, doctorID, s.now()); err == nil {
		return nil, fmt.Errorf("%w: access is already granted", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if level == "" {
		level = LevelRead
	}
	req := &Request{
		PatientID:   patientID,
		DoctorID:    doctorID,
		Status:      StatusPending,
		AccessLevel: level,
		Message:     message,
		RequestedAt: s.now(),
	}
	if err := s.requests.CreatePending(ctx, req); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: a pending request already exists", ErrConflict)
		}
		return nil, err
	}
	return req, nil
}

// RequireWriteLevel gates record mutations: the doctor must hold an active,
// unexpired grant at readWrite. Heuristic access never satisfies this.
func (s *Service) RequireWriteLevel(ctx context.Context, doctorID, patientID uuid.UUID) error {
	g, err := s.grants.GetUsable(ctx, patientID, doctorID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrForbidden
		}
		return err
	}
	if g.AccessLevel != LevelReadWrite {
		return fmt.Errorf("%w: read-only access", ErrForbidden)
	}
	return nil
}

// CheckAccess reports whether the doctor holds a usable grant, and at which
// level, without side effects. Used by record read paths that must not
// create requests or touch history.
func (s *Service) CheckAccess(ctx context.Context, doctorID, patientID uuid.UUID) (*Grant, error) {
	return s.grants.GetUsable(ctx, patientID, doctorID, s.now())
}

func (s *Service) ListGrants(ctx context.Context, patientID uuid.UUID) ([]*Grant, error) {
	return s.grants.ListUsableByPatient(ctx, patientID, s.now())
}

// ListRequestsByPatient returns the patient's requests, optionally narrowed
// to one status. The empty status means all.
func (s *Service) ListRequestsByPatient(ctx context.Context, patientID uuid.UUID, status RequestStatus) ([]*Request, error) {
	return s.requests.ListByPatient(ctx, patientID, status)
}

// ListRequestsByDoctor returns the doctor's requests, optionally narrowed to
// one status. The empty status means all.
func (s *Service) ListRequestsByDoctor(ctx context.Context, doctorID uuid.UUID, status RequestStatus) ([]*Request, error) {
	return s.requests.ListByDoctor(ctx, doctorID, status)
}

func (s *Service) ListHistory(ctx context.Context, doctorID uuid.UUID) ([]*History, error) {
	return s.history.ListByDoctor(ctx, doctorID)
}

// touchHistoryActive refreshes the pair's history row to active, creating it
// if missing and clearing any revocation stamp.
func (s *Service) touchHistoryActive(ctx context.Context, doctorID, patientID uuid.UUID) error {
	h := &History{
		DoctorID:        doctorID,
		PatientID:       patientID,
		HasActiveAccess: true,
	}
	if p, err := s.patients.AccessProfile(ctx, patientID); err == nil {
		h.FullName = p.FullName
	}
	if err := s.history.Touch(ctx, h); err != nil {
		return fmt.Errorf("touch history: %w", err)
	}
	return nil
}
