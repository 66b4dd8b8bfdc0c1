package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carehub/internal/platform/auth"
	"github.com/ehr/carehub/internal/platform/gateway"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Provider callback; authenticated by signature, not JWT.
	api.POST("/payments/webhook", h.Webhook)

	payGroup := api.Group("/payments", auth.RequireRole("patient", "billing"))
	payGroup.POST("/prescriptions/:id", h.CreatePrescriptionPayment)
	payGroup.POST("/consultations/:id", h.CreateConsultationPayment)
	payGroup.GET("/:orderId", h.GetPayment)
}

type createPaymentResponse struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
	Status      Status `json:"status"`
}

func newCreatePaymentResponse(p *PaymentIntent) createPaymentResponse {
	resp := createPaymentResponse{OrderID: p.OrderID, GrossAmount: p.GrossAmount, Status: p.Status}
	if p.SnapToken != nil {
		resp.Token = *p.SnapToken
	}
	if p.RedirectURL != nil {
		resp.RedirectURL = *p.RedirectURL
	}
	return resp
}

func (h *Handler) CreatePrescriptionPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	intent, err := h.svc.CreatePrescriptionPayment(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, newCreatePaymentResponse(intent))
}

func (h *Handler) CreateConsultationPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	intent, err := h.svc.CreateConsultationPayment(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, newCreatePaymentResponse(intent))
}

// GetPayment returns the stored intent. With ?refresh=true the provider is
// re-queried first.
func (h *Handler) GetPayment(c echo.Context) error {
	orderID := c.Param("orderId")
	ctx := c.Request().Context()

	var (
		intent *PaymentIntent
		err    error
	)
	if c.QueryParam("refresh") == "true" {
		intent, err = h.svc.RefreshStatus(ctx, orderID)
	} else {
		intent, err = h.svc.GetIntent(ctx, orderID)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, intent)
}

// Webhook answers 200 for every authenticated callback, including unknown
// order ids and duplicates, so the provider stops retrying. Contention on
// the same order id answers 409 so the provider retries later.
func (h *Handler) Webhook(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	outcome, err := h.svc.HandleWebhook(c.Request().Context(), raw)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
	case errors.Is(err, gateway.ErrInvalidPayload):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid notification payload")
	case errors.Is(err, ErrLockNotAcquired):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrIntentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "payment not found")
	case errors.Is(err, ErrEntityNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyPaid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNothingToCharge):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	case errors.Is(err, gateway.ErrTransactionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "transaction not found at gateway")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
