package notification

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carehub/internal/platform/auth"
	"github.com/ehr/carehub/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/notifications", h.Send, auth.RequireRole("admin"))
	api.GET("/notifications", h.ListMine)
	api.GET("/notifications/:id", h.Get)
}

type sendRequest struct {
	Audience    Audience               `json:"audience"`
	UserIDs     []string               `json:"userIds"`
	Title       string                 `json:"title"`
	Body        string                 `json:"body"`
	Priority    string                 `json:"priority"`
	ActionURL   *string                `json:"actionUrl"`
	RelatedData map[string]interface{} `json:"relatedData"`
}

type sendResponse struct {
	ID        uuid.UUID `json:"id"`
	Delivered int       `json:"delivered"`
}

// Send handles POST /notifications.
func (h *Handler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n := &Notification{
		Audience:    req.Audience,
		UserIDs:     req.UserIDs,
		Title:       req.Title,
		Body:        req.Body,
		Priority:    req.Priority,
		ActionURL:   req.ActionURL,
		RelatedData: req.RelatedData,
		Source:      "api",
	}
	delivered, err := h.svc.Send(c.Request().Context(), n)
	if err != nil {
		if errors.Is(err, ErrInvalidNotification) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, sendResponse{ID: n.ID, Delivered: delivered})
}

// ListMine handles GET /notifications for the calling user.
func (h *Handler) ListMine(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	p := pagination.FromContext(c)

	items, err := h.svc.ListForUser(c.Request().Context(), userID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, pagination.NewPage(items, len(items), p))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}
