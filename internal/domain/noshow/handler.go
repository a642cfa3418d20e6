package noshow

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cliniflow/cliniflow/internal/platform/auth"
	"github.com/cliniflow/cliniflow/internal/platform/errs"
	"github.com/cliniflow/cliniflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "coordinator", "agent"))
	readGroup.GET("/noshow/cases", h.List)
	readGroup.GET("/noshow/cases/:id", h.Get)
	readGroup.GET("/noshow/cases/:id/deadline", h.Deadline)
	readGroup.GET("/noshow/motives", h.Motives)

	writeGroup := api.Group("", auth.RequireRole("admin", "coordinator"))
	writeGroup.POST("/noshow/cases", h.Create)
	writeGroup.POST("/noshow/cases/:id/contact-attempts", h.RegisterContactAttempt)
	writeGroup.POST("/noshow/cases/:id/motive", h.AssignMotive)
	writeGroup.POST("/noshow/cases/:id/reschedule", h.RegisterReschedule)
	writeGroup.POST("/noshow/cases/:id/lost", h.MarkLost)
	writeGroup.POST("/noshow/protocol", h.RunProtocol)
}

type createCaseRequest struct {
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	BranchID      *uuid.UUID `json:"branch_id,omitempty"`
	MissedAt      time.Time  `json:"missed_at"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createCaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.OpenCase(c.Request().Context(), req.AppointmentID, req.PatientID, req.BranchID, req.MissedAt)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	nc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, nc)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var branchID *uuid.UUID
	if raw := c.QueryParam("branch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid branch_id")
		}
		branchID = &id
	}
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("state"), branchID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type contactAttemptRequest struct {
	Note            string `json:"note"`
	Succeeded       bool   `json:"succeeded"`
	PatientResponse string `json:"patient_response"`
}

func (h *Handler) RegisterContactAttempt(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req contactAttemptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	nc, err := h.svc.RegisterContactAttempt(c.Request().Context(), id, req.Note, req.Succeeded, req.PatientResponse, time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, nc)
}

type assignMotiveRequest struct {
	Motive    string `json:"motive"`
	Detail    string `json:"detail"`
	Recipient string `json:"recipient"`
}

func (h *Handler) AssignMotive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignMotiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	nc, err := h.svc.AssignMotive(c.Request().Context(), id, req.Motive, req.Detail, req.Recipient, time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, nc)
}

type rescheduleRequest struct {
	NewAppointmentID uuid.UUID `json:"new_appointment_id"`
}

func (h *Handler) RegisterReschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	nc, err := h.svc.RegisterReschedule(c.Request().Context(), id, req.NewAppointmentID, time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, nc)
}

type markLostRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) MarkLost(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req markLostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		req.Reason = "closed by operator"
	}
	nc, err := h.svc.MarkLost(c.Request().Context(), id, req.Reason, time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, nc)
}

func (h *Handler) Deadline(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	report, err := h.svc.Deadline(c.Request().Context(), id, time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Motives(c echo.Context) error {
	return c.JSON(http.StatusOK, MotiveCatalog())
}

func (h *Handler) RunProtocol(c echo.Context) error {
	summary, err := h.svc.RunProtocol(c.Request().Context(), time.Now())
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}
