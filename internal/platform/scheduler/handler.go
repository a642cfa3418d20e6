package scheduler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cliniflow/cliniflow/internal/platform/auth"
	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scheduler", auth.RequireRole("admin"))
	g.GET("/jobs", h.ListJobs)
	g.GET("/history", h.GetHistory)
	g.POST("/jobs/:name/run", h.RunJob)
	g.POST("/jobs/:name/pause", h.PauseJob)
	g.POST("/jobs/:name/resume", h.ResumeJob)
	g.POST("/restart", h.Restart)
}

func (h *Handler) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"health": h.orch.HealthCheck(),
		"jobs":   h.orch.Jobs(),
	})
}

func (h *Handler) GetHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.orch.History())
}

func (h *Handler) RunJob(c echo.Context) error {
	name := c.Param("name")
	if err := h.orch.RunNow(c.Request().Context(), name); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed", "job": name})
}

func (h *Handler) PauseJob(c echo.Context) error {
	if err := h.orch.Pause(c.Param("name")); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResumeJob(c echo.Context) error {
	if err := h.orch.Resume(c.Param("name")); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Restart(c echo.Context) error {
	h.orch.Restart()
	return c.JSON(http.StatusOK, map[string]string{"status": "restarted"})
}

// HealthHandler serves the process-level health endpoint. Degraded still
// returns 200 so load balancers keep routing; only unhealthy returns 503.
func HealthHandler(orch *Orchestrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		health := orch.HealthCheck()
		status := http.StatusOK
		if health == HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]interface{}{
			"status": health,
			"jobs":   orch.Jobs(),
		})
	}
}
