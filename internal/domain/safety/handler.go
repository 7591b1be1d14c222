package safety

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxsense/rxsense/internal/domain/patient"
	"github.com/rxsense/rxsense/internal/platform/auth"
	"github.com/rxsense/rxsense/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	readGroup.GET("/interactions", h.ListInteractions)
	readGroup.GET("/interactions/:id", h.GetInteraction)
	readGroup.POST("/safety-checks", h.RunCheck)

	// Catalog maintenance is admin-only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/interactions", h.CreateInteraction)
	adminGroup.PUT("/interactions/:id", h.UpdateInteraction)
	adminGroup.DELETE("/interactions/:id", h.DeleteInteraction)
}

func (h *Handler) CreateInteraction(c echo.Context) error {
	var d DrugInteraction
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateInteraction(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetInteraction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetInteraction(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "interaction not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateInteraction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d DrugInteraction
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = id
	if err := h.svc.UpdateInteraction(c.Request().Context(), &d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteInteraction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteInteraction(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListInteractions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInteractions(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// CheckRequest is the payload for a stateless safety screen against
// explicitly supplied patient data.
type CheckRequest struct {
	Proposed          []string                    `json:"proposed_medications"`
	Allergies         []*patient.Allergy          `json:"allergies"`
	ActiveMedications []*patient.MedicationRecord `json:"active_medications"`
}

func (h *Handler) RunCheck(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.Check(c.Request().Context(), CheckInput{
		Proposed:          req.Proposed,
		Allergies:         req.Allergies,
		ActiveMedications: req.ActiveMedications,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
