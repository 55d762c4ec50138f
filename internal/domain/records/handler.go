package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgrid/medgrid/internal/domain/access"
	"github.com/medgrid/medgrid/internal/domain/identity"
	"github.com/medgrid/medgrid/internal/platform/abe"
	"github.com/medgrid/medgrid/internal/platform/auth"
	"github.com/medgrid/medgrid/pkg/pagination"
)

type Handler struct {
	svc      *Service
	identity *identity.Service
}

func NewHandler(svc *Service, identitySvc *identity.Service) *Handler {
	return &Handler{svc: svc, identity: identitySvc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)
	patient := auth.RequireRole(auth.RolePatient)

	api.POST("/doctor/patient-access", h.CrossHospitalAccess, doctor)
	api.GET("/doctor/patients/:patientId/records", h.ListPatientRecords, doctor)
	api.POST("/records", h.CreateRecord, doctor)
	api.GET("/records/:id", h.GetRecord, doctor)
	api.PUT("/records/:id", h.UpdateRecord, doctor)

	api.GET("/patient/records", h.ListOwnRecords, patient)
}

func (h *Handler) doctor(c echo.Context) (*identity.Doctor, error) {
	ident := auth.IdentityFromContext(c.Request().Context())
	d, err := h.identity.GetDoctorByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusForbidden, "no doctor profile for caller")
	}
	return d, nil
}

func (h *Handler) patient(c echo.Context) (*identity.Patient, error) {
	ident := auth.IdentityFromContext(c.Request().Context())
	p, err := h.identity.GetPatientByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusForbidden, "no patient profile for caller")
	}
	return p, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, access.ErrNotFound),
		errors.Is(err, identity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, abe.ErrPolicyDenied):
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{
			"code":    "policy_denied",
			"message": "record policy does not permit decryption for this caller",
		})
	case errors.Is(err, access.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, access.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateRecord(c echo.Context) error {
	d, err := h.doctor(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	rec, err := h.svc.Create(c.Request().Context(), d, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	d, err := h.doctor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := h.svc.Update(c.Request().Context(), d, id, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	d, err := h.doctor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, res, err := h.svc.GetForDoctor(c.Request().Context(), d, id, c.QueryParam("access_code"))
	if err != nil {
		if errors.Is(err, access.ErrForbidden) && res != nil && res.Method == access.MethodRequestSent {
			return c.JSON(http.StatusAccepted, map[string]interface{}{
				"message":    "access request sent to patient",
				"resolution": res,
			})
		}
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPatientRecords(c echo.Context) error {
	d, err := h.doctor(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, res, err := h.svc.ListForDoctor(
		c.Request().Context(), d, patientID, c.QueryParam("access_code"), pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, access.ErrForbidden) && res != nil && res.Method == access.MethodRequestSent {
			return c.JSON(http.StatusAccepted, map[string]interface{}{
				"message":    "access request sent to patient",
				"resolution": res,
			})
		}
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListOwnRecords(c echo.Context) error {
	p, err := h.patient(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOwn(c.Request().Context(), p.ID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CrossHospitalAccess(c echo.Context) error {
	d, err := h.doctor(c)
	if err != nil {
		return err
	}
	var in LookupInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := h.svc.CrossHospitalLookup(c.Request().Context(), d, in)
	if err != nil {
		return mapError(err)
	}
	if result.Resolution != nil && !result.Resolution.Granted {
		if result.Resolution.Method == access.MethodRequestSent {
			return c.JSON(http.StatusAccepted, result)
		}
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	return c.JSON(http.StatusOK, result)
}
