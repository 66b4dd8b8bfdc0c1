package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carehub/internal/platform/gateway"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func assertHTTPStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d (%v)", want, he.Code, he.Message)
	}
}

func TestHandler_CreateConsultationPayment(t *testing.T) {
	h, env, e := newTestHandler()
	fee := int64(50000)
	c, _ := env.addConsultation(&fee)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(c.ID.String())

	if err := h.CreateConsultationPayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp createPaymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.GrossAmount != 50000 || resp.Token == "" || resp.RedirectURL == "" || resp.Status != StatusPending {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandler_CreatePrescriptionPayment_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("not-a-uuid")

	assertHTTPStatus(t, h.CreatePrescriptionPayment(ctx), http.StatusBadRequest)
}

func TestHandler_CreatePrescriptionPayment_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues(uuid.New().String())

	assertHTTPStatus(t, h.CreatePrescriptionPayment(ctx), http.StatusNotFound)
}

func TestHandler_Webhook(t *testing.T) {
	h, env, e := newTestHandler()
	rx, _ := env.addPrescription()
	intent, err := env.svc.CreatePrescriptionPayment(context.Background(), rx.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.gw.settle(intent.OrderID, "settlement", "15000.00")
	body := env.gw.notification(intent.OrderID, "200", "settlement", "15000.00", "", "")

	r := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(string(body)))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Webhook(e.NewContext(r, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var outcome WebhookOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !outcome.Known || !outcome.Changed || outcome.Result.FinalStatus != StatusPaid {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestHandler_Webhook_StatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		body  func(env *testEnv) string
		setup func(env *testEnv)
		want  int
	}{
		{
			name: "forged signature",
			body: func(*testEnv) string {
				return `{"order_id":"RX-1","status_code":"200","gross_amount":"1.00","signature_key":"x"}`
			},
			want: http.StatusForbidden,
		},
		{
			name: "malformed body",
			body: func(*testEnv) string { return `{not json` },
			want: http.StatusBadRequest,
		},
		{
			name: "provider has no record",
			body: func(env *testEnv) string {
				return string(env.gw.notification("RX-404", "200", "settlement", "1.00", "", ""))
			},
			want: http.StatusNotFound,
		},
		{
			name: "concurrent reconciliation",
			setup: func(env *testEnv) {
				env.gw.settle("RX-busy", "settlement", "1.00")
				env.locker.held["payment:reconcile:RX-busy"] = "other"
			},
			body: func(env *testEnv) string {
				return string(env.gw.notification("RX-busy", "200", "settlement", "1.00", "", ""))
			},
			want: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, env, e := newTestHandler()
			if tt.setup != nil {
				tt.setup(env)
			}
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body(env)))
			assertHTTPStatus(t, h.Webhook(e.NewContext(r, httptest.NewRecorder())), tt.want)
		})
	}
}

func TestHandler_GetPayment(t *testing.T) {
	h, env, e := newTestHandler()
	rx, _ := env.addPrescription()
	intent, _ := env.svc.CreatePrescriptionPayment(context.Background(), rx.ID)
	env.gw.settle(intent.OrderID, "settlement", "15000.00")

	r := httptest.NewRequest(http.MethodGet, "/?refresh=true", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(r, rec)
	ctx.SetParamNames("orderId")
	ctx.SetParamValues(intent.OrderID)

	if err := h.GetPayment(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got PaymentIntent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("expected PAID after refresh, got %s", got.Status)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	ctx = e.NewContext(r, httptest.NewRecorder())
	ctx.SetParamNames("orderId")
	ctx.SetParamValues("RX-unknown")
	assertHTTPStatus(t, h.GetPayment(ctx), http.StatusNotFound)
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("reconcile: %w", gateway.ErrInvalidSignature), http.StatusForbidden},
		{gateway.ErrInvalidPayload, http.StatusBadRequest},
		{ErrLockNotAcquired, http.StatusConflict},
		{ErrIntentNotFound, http.StatusNotFound},
		{fmt.Errorf("load consultation: %w", ErrEntityNotFound), http.StatusNotFound},
		{ErrAlreadyPaid, http.StatusConflict},
		{ErrNothingToCharge, http.StatusUnprocessableEntity},
		{fmt.Errorf("gateway: create transaction: %w", gateway.ErrUnavailable), http.StatusBadGateway},
		{gateway.ErrTransactionNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assertHTTPStatus(t, toHTTPError(tt.err), tt.want)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/payments/webhook":           false,
		"POST /api/v1/payments/prescriptions/:id": false,
		"POST /api/v1/payments/consultations/:id": false,
		"GET /api/v1/payments/:orderId":           false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
