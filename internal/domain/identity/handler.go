package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medgrid/medgrid/internal/platform/auth"
	"github.com/medgrid/medgrid/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist)

	api.POST("/patients", h.CreatePatient, staff)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patient/profile", h.GetMyPatientProfile, auth.RequireRole(auth.RolePatient))
	api.PUT("/patient/profile", h.UpdateMyPatientProfile, auth.RequireRole(auth.RolePatient))
	api.POST("/patient/access-code", h.RegenerateAccessCode, auth.RequireRole(auth.RolePatient))

	api.POST("/doctors", h.CreateDoctor, staff)
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	api.GET("/doctor/profile", h.GetMyDoctorProfile, auth.RequireRole(auth.RoleDoctor))
	api.PUT("/doctor/profile", h.UpdateMyDoctorProfile, auth.RequireRole(auth.RoleDoctor))
}

type createPatientRequest struct {
	UserID      string     `json:"user_id"`
	FullName    string     `json:"full_name"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	ContactNo   string     `json:"contact_no"`
	Address     string     `json:"address"`
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req createPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p := &Patient{
		UserID:      req.UserID,
		FullName:    req.FullName,
		DateOfBirth: req.DateOfBirth,
		ContactNo:   req.ContactNo,
		Address:     req.Address,
	}
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p.Redacted())
}

func (h *Handler) GetMyPatientProfile(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	p, err := h.svc.GetPatientByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient profile not found")
	}
	return c.JSON(http.StatusOK, p)
}

type updatePatientRequest struct {
	FullName     string     `json:"full_name"`
	DateOfBirth  *time.Time `json:"date_of_birth"`
	ContactNo    string     `json:"contact_no"`
	Address      string     `json:"address"`
	ProfilePhoto *string    `json:"profile_photo"`
}

func (h *Handler) UpdateMyPatientProfile(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	p, err := h.svc.GetPatientByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient profile not found")
	}

	var req updatePatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FullName != "" {
		p.FullName = req.FullName
	}
	if req.DateOfBirth != nil {
		p.DateOfBirth = req.DateOfBirth
	}
	if req.ContactNo != "" {
		p.ContactNo = req.ContactNo
	}
	if req.Address != "" {
		p.Address = req.Address
	}
	if req.ProfilePhoto != nil {
		p.ProfilePhoto = req.ProfilePhoto
	}
	if err := h.svc.UpdatePatient(c.Request().Context(), p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) RegenerateAccessCode(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	p, err := h.svc.GetPatientByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient profile not found")
	}
	updated, err := h.svc.RegenerateAccessCode(c.Request().Context(), p.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"access_code": updated.AccessCode})
}

type createDoctorRequest struct {
	UserID         string `json:"user_id"`
	FullName       string `json:"full_name"`
	Specialization string `json:"specialization"`
	HospitalCode   string `json:"hospital_code"`
	DepartmentCode string `json:"department_code"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req createDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d := &Doctor{
		UserID:         req.UserID,
		FullName:       req.FullName,
		Specialization: req.Specialization,
		HospitalCode:   req.HospitalCode,
		DepartmentCode: req.DepartmentCode,
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "doctor not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetMyDoctorProfile(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	d, err := h.svc.GetDoctorByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "doctor profile not found")
	}
	return c.JSON(http.StatusOK, d)
}

type updateDoctorRequest struct {
	FullName       string `json:"full_name"`
	Specialization string `json:"specialization"`
	HospitalCode   string `json:"hospital_code"`
	DepartmentCode string `json:"department_code"`
}

func (h *Handler) UpdateMyDoctorProfile(c echo.Context) error {
	ident := auth.IdentityFromContext(c.Request().Context())
	d, err := h.svc.GetDoctorByUser(c.Request().Context(), ident.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "doctor profile not found")
	}

	var req updateDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FullName != "" {
		d.FullName = req.FullName
	}
	if req.Specialization != "" {
		d.Specialization = req.Specialization
	}
	if req.HospitalCode != "" {
		d.HospitalCode = req.HospitalCode
	}
	if req.DepartmentCode != "" {
		d.DepartmentCode = req.DepartmentCode
	}
	if err := h.svc.UpdateDoctor(c.Request().Context(), d); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
