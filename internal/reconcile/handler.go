package reconcile

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labdesk/labdesk/internal/platform/auth"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

// Handler triggers a pass on demand.
type Handler struct {
	runner *Runner
	jobs   map[string]Job
}

func NewHandler(runner *Runner, jobs ...Job) *Handler {
	h := &Handler{runner: runner, jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		h.jobs[j.Name()] = j
	}
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sync", auth.RequirePermission(auth.PermSyncRun))
	g.POST("/:job", h.Trigger)
}

func (h *Handler) Trigger(c echo.Context) error {
	job, ok := h.jobs[c.Param("job")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown sync job")
	}
	res, err := h.runner.Run(c.Request().Context(), job)
	if err != nil {
		var svcErr *lis.ServiceError
		switch {
		case errors.Is(err, ErrLocked):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.As(err, &svcErr):
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
		}
	}
	return c.JSON(http.StatusOK, res)
}
