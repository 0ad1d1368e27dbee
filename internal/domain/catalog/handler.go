package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/labdesk/labdesk/internal/platform/auth"
	"github.com/labdesk/labdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequirePermission(auth.PermCatalogRead))
	read.GET("/tests", h.ListTests)
	read.GET("/tests/:id", h.GetTest)
	read.GET("/sample-types", h.ListSampleTypes)
	read.GET("/sample-types/:id", h.GetSampleType)

	write := api.Group("", auth.RequirePermission(auth.PermCatalogWrite))
	write.PATCH("/tests/:id/active", h.SetTestActive)
	write.PUT("/sample-types/:id", h.UpdateSampleType)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func lookupError(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func queryParams(c echo.Context, keys ...string) map[string]string {
	params := make(map[string]string)
	for _, k := range keys {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	return params
}

// -- Tests --

func (h *Handler) ListTests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTests(c.Request().Context(), queryParams(c, "q", "code", "active"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "test")
	}
	return c.JSON(http.StatusOK, t)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetTestActive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req activeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	t, err := h.svc.SetTestActive(c.Request().Context(), id, *req.Active)
	if err != nil {
		return lookupError(err, "test")
	}
	return c.JSON(http.StatusOK, t)
}

// -- Sample types --

func (h *Handler) ListSampleTypes(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSampleTypes(c.Request().Context(), queryParams(c, "q", "orderable"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, total, pg))
}

func (h *Handler) GetSampleType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetSampleType(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "sample type")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateSampleType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var st SampleType
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st.ID = id
	if err := h.svc.UpdateSampleType(c.Request().Context(), &st); err != nil {
		if errors.Is(err, ErrNotFound) {
			return lookupError(err, "sample type")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}
