package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbuschat/realtime/internal/domain"
	"github.com/nimbuschat/realtime/internal/presence"
	"github.com/nimbuschat/realtime/internal/repository/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupStatusRouter() (*gin.Engine, *presence.Registry, *mock.Verifier, uuid.UUID) {
	registry := presence.New(nil, time.Minute, zap.NewNop())
	verifier := mock.NewVerifier()
	userID := uuid.New()
	verifier.Tokens["good-token"] = userID

	handler := NewStatusHandler(verifier, registry, zap.NewNop())

	router := gin.New()
	router.GET("/status/get", handler.Get)
	router.POST("/status/change", handler.Change)

	return router, registry, verifier, userID
}

func TestStatusHandler_GetReturnsOffline(t *testing.T) {
	router, _, _, _ := setupStatusRouter()

	req := httptest.NewRequest(http.MethodGet, "/status/get?token=good-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status domain.Status `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.Status != domain.StatusOffline {
		t.Fatalf("expected offline by default, got %s", resp.Status)
	}
}

func TestStatusHandler_GetRequiresAuth(t *testing.T) {
	router, _, _, userID := setupStatusRouter()

	req := httptest.NewRequest(http.MethodGet, "/status/get?user_id="+userID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStatusHandler_ChangeRequiresAuth(t *testing.T) {
	router, _, _, _ := setupStatusRouter()

	req := httptest.NewRequest(http.MethodPost, "/status/change?new_status=online", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStatusHandler_ChangeRejectsInvalidStatus(t *testing.T) {
	router, _, _, _ := setupStatusRouter()

	req := httptest.NewRequest(http.MethodPost, "/status/change?new_status=bogus", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStatusHandler_ChangeSucceeds(t *testing.T) {
	router, registry, _, userID := setupStatusRouter()

	req := httptest.NewRequest(http.MethodPost, "/status/change?new_status=dnd", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if resp.Status != "200" {
		t.Fatalf("expected literal status \"200\", got %q", resp.Status)
	}

	status, err := registry.GetStatus(req.Context(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != domain.StatusDND {
		t.Fatalf("expected dnd, got %s", status)
	}
}
