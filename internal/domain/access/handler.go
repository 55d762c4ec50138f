package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgrid/medgrid/internal/platform/auth"
)

// PrincipalDirectory maps the authenticated user to their doctor or patient
// aggregate and resolves patient identifiers (UUID or access code) supplied
// by doctors. Implemented by an adapter over the identity domain.
type PrincipalDirectory interface {
	DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	PatientIDByIdentifier(ctx context.Context, identifier string) (uuid.UUID, error)
}

type Handler struct {
	svc        *Service
	principals PrincipalDirectory
}

func NewHandler(svc *Service, principals PrincipalDirectory) *Handler {
	return &Handler{svc: svc, principals: principals}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)
	patient := auth.RequireRole(auth.RolePatient)

	api.POST("/doctor/access-requests", h.RequestAccess, doctor)
	api.GET("/doctor/access-requests", h.ListDoctorRequests, doctor)
	api.GET("/doctor/patients/history", h.ListHistory, doctor)

	api.POST("/patient/grants", h.GrantAccess, patient)
	api.DELETE("/patient/grants/:doctorId", h.RevokeAccess, patient)
	api.GET("/patient/grants", h.ListGrants, patient)
	api.GET("/patient/access-requests", h.ListPatientRequests, patient)
	api.PUT("/patient/access-requests/:id", h.RespondToRequest, patient)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) doctorID(c echo.Context) (uuid.UUID, error) {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := h.principals.DoctorIDForUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no doctor profile for caller")
	}
	return id, nil
}

func (h *Handler) patientID(c echo.Context) (uuid.UUID, error) {
	ident := auth.IdentityFromContext(c.Request().Context())
	id, err := h.principals.PatientIDForUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no patient profile for caller")
	}
	return id, nil
}

type requestAccessInput struct {
	// PatientIdentifier is a patient UUID or a shared access code.
	PatientIdentifier string `json:"patient_identifier"`
	AccessLevel       string `json:"access_level"`
	Message           string `json:"message"`
}

func (h *Handler) RequestAccess(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	var in requestAccessInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.PatientIdentifier == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_identifier is required")
	}
	level, err := ParseAccessLevel(in.AccessLevel)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patientID, err := h.principals.PatientIDByIdentifier(c.Request().Context(), in.PatientIdentifier)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}

	req, err := h.svc.RequestAccess(c.Request().Context(), patientID, doctorID, level, in.Message)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListDoctorRequests(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	status, err := ParseRequestStatus(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.ListRequestsByDoctor(c.Request().Context(), doctorID, status)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListHistory(c echo.Context) error {
	doctorID, err := h.doctorID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListHistory(c.Request().Context(), doctorID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type grantInput struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	AccessLevel string    `json:"access_level"`
	ExpiryDays  int       `json:"expiry_days"`
}

func (h *Handler) GrantAccess(c echo.Context) error {
	patientID, err := h.patientID(c)
	if err != nil {
		return err
	}
	var in grantInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	level, err := ParseAccessLevel(in.AccessLevel)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	g, err := h.svc.Grant(c.Request().Context(), GrantInput{
		PatientID:   patientID,
		DoctorID:    in.DoctorID,
		AccessLevel: level,
		ExpiryDays:  in.ExpiryDays,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) RevokeAccess(c echo.Context) error {
	patientID, err := h.patientID(c)
	if err != nil {
		return err
	}
	doctorID, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	g, err := h.svc.Revoke(c.Request().Context(), patientID, doctorID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ListGrants(c echo.Context) error {
	patientID, err := h.patientID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListGrants(c.Request().Context(), patientID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListPatientRequests(c echo.Context) error {
	patientID, err := h.patientID(c)
	if err != nil {
		return err
	}
	status, err := ParseRequestStatus(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.ListRequestsByPatient(c.Request().Context(), patientID, status)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type respondInput struct {
	Status          string `json:"status"`
	ResponseMessage string `json:"response_message"`
}

func (h *Handler) RespondToRequest(c echo.Context) error {
	patientID, err := h.patientID(c)
	if err != nil {
		return err
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request id")
	}
	var in respondInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req, err := h.svc.RespondToRequest(
		c.Request().Context(), patientID, requestID, RequestStatus(in.Status), in.ResponseMessage)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, req)
}
