package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carehub/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo, _ := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func withUser(req *http.Request, userID string, roles ...string) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, userID)
	ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
	return req.WithContext(ctx)
}

func TestHandler_Send(t *testing.T) {
	h, repo, e := newTestHandler()
	body := `{"audience":"users","userIds":["u1","u9"],"title":"Lab results","body":"Ready","priority":"high","relatedData":{"labId":"L-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Send(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Delivered != 1 {
		t.Errorf("expected 1 delivered, got %d", resp.Delivered)
	}
	if _, ok := repo.items[resp.ID]; !ok {
		t.Error("expected notification stored under returned id")
	}
}

func TestHandler_Send_Invalid(t *testing.T) {
	h, _, e := newTestHandler()
	for _, body := range []string{`{"audience":"user","title":"x"}`, `{"audience":`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		err := h.Send(e.NewContext(req, httptest.NewRecorder()))
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %v", body, err)
		}
	}
}

func TestHandler_Send_RequiresAdmin(t *testing.T) {
	h, _, e := newTestHandler()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	body := `{"audience":"all","title":"x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, "u1", "patient")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, "admin-1", "admin")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201 for admin, got %d", rec.Code)
	}
}

func TestHandler_ListMine(t *testing.T) {
	h, _, e := newTestHandler()
	_, _ = h.svc.Send(context.Background(), &Notification{Audience: AudienceUser, UserIDs: []string{"u1"}, Title: "mine"})
	_, _ = h.svc.Send(context.Background(), &Notification{Audience: AudienceUser, UserIDs: []string{"u2"}, Title: "theirs"})

	req := withUser(httptest.NewRequest(http.MethodGet, "/?limit=10", nil), "u1")
	rec := httptest.NewRecorder()
	if err := h.ListMine(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []Notification `json:"data"`
		Limit   int            `json:"limit"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Title != "mine" {
		t.Errorf("unexpected items %+v", page.Data)
	}
	if page.Limit != 10 || page.HasMore {
		t.Errorf("unexpected page metadata %+v", page)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	err := h.ListMine(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without user, got %v", err)
	}
}

func TestHandler_Get(t *testing.T) {
	h, _, e := newTestHandler()
	n := &Notification{Audience: AudienceAll, Title: "hello"}
	_, _ = h.svc.Send(context.Background(), n)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bad")
	var he *echo.HTTPError
	if err := h.Get(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
