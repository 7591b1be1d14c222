package analysis

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/rxsense/rxsense/internal/platform/auth"
	"github.com/rxsense/rxsense/pkg/pagination"
)

type Handler struct {
	svc     *Service
	reviews *ReviewService
}

func NewHandler(svc *Service, reviews *ReviewService) *Handler {
	return &Handler{svc: svc, reviews: reviews}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	readGroup.GET("/analysis-requests", h.ListRequests)
	readGroup.GET("/analysis-requests/:id", h.GetRequest)
	readGroup.GET("/analysis-requests/:id/result", h.GetResult)
	readGroup.GET("/analysis-requests/:id/reviews", h.ListReviews)

	// Pipeline actions require a clinical role
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	writeGroup.POST("/analysis-requests", h.CreateRequest)
	writeGroup.POST("/analysis-requests/:id/process", h.ProcessRequest)
	writeGroup.POST("/analysis-requests/:id/retry", h.RetryRequest)
	writeGroup.POST("/analysis-requests/:id/cancel", h.CancelRequest)
	writeGroup.POST("/analysis-requests/:id/reviews", h.SubmitReview)
	writeGroup.POST("/reviews/:id/adjustments", h.ImplementAdjustments)
}

// httpStatus maps a pipeline error code to its response status.
func httpStatus(code Code) int {
	switch code {
	case CodeNoConsent, CodeMissingReason:
		return http.StatusUnprocessableEntity
	case CodeDuplicateActiveRequest, CodeInvalidState, CodeMaxRetriesExceeded:
		return http.StatusConflict
	case CodePatientNotFound:
		return http.StatusNotFound
	case CodeAITimeout, CodeProcessingTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderError, CodeNoJSONFound, CodeValidationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(err error) error {
	if code := CodeOf(err); code != "" {
		return echo.NewHTTPError(httpStatus(code), map[string]interface{}{
			"code":    string(code),
			"message": err.Error(),
		})
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func actorID(c echo.Context) uuid.UUID {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (h *Handler) CreateRequest(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RequestedByID == uuid.Nil {
		req.RequestedByID = actorID(c)
	}
	if err := h.svc.CreateRequest(c.Request().Context(), &req); err != nil {
		if CodeOf(err) != "" {
			return respondError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	req, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) ListRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	if patientParam := c.QueryParam("patient_id"); patientParam != "" {
		patientID, err := uuid.Parse(patientParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.ListRequests(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ProcessRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.Process(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, resultResponse(result))
}

func (h *Handler) RetryRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.Retry(c.Request().Context(), id)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, resultResponse(result))
}

func (h *Handler) CancelRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Cancel(c.Request().Context(), id, actorID(c)); err != nil {
		return respondError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	result, err := h.svc.GetResult(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	return c.JSON(http.StatusOK, resultResponse(result))
}

func (h *Handler) SubmitReview(c echo.Context) error {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var rv Review
	if err := c.Bind(&rv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rv.RequestID = requestID
	if rv.ReviewerID == uuid.Nil {
		rv.ReviewerID = actorID(c)
	}
	if err := h.reviews.SubmitReview(c.Request().Context(), &rv); err != nil {
		if CodeOf(err) != "" {
			return respondError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rv)
}

func (h *Handler) ListReviews(c echo.Context) error {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.reviews.ListReviews(c.Request().Context(), requestID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ImplementAdjustments(c echo.Context) error {
	reviewID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Adjustments []AdjustmentInput `json:"adjustments"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body.Adjustments) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one adjustment is required")
	}
	results, err := h.reviews.ImplementAdjustments(c.Request().Context(), reviewID, body.Adjustments)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"adjustments": results})
}

// resultResponse exposes the stored JSONB documents as raw JSON.
type resultView struct {
	*Result
	Assessment   json.RawMessage `json:"assessment"`
	SafetyReport json.RawMessage `json:"safety_report"`
}

func resultResponse(r *Result) *resultView {
	return &resultView{
		Result:       r,
		Assessment:   json.RawMessage(r.Assessment),
		SafetyReport: json.RawMessage(r.SafetyReport),
	}
}
