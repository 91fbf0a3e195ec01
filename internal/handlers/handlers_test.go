package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/middleware"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/pkg/logger"
)

const apiKey = "test-key"

type stubService struct {
	mu sync.Mutex

	startRes *services.StartResult
	startErr error
	status   services.SessionStatus
	qr       *services.QRImage
	qrErr    error
	list     []services.SessionSummary
	sendErr  error

	lastTenant string
	lastLabel  string
	lastHook   string
	lastTo     string
	lastMedia  driver.Media
	logouts    int
}

func (s *stubService) Start(ctx context.Context, tenantID, label, webhookURL string) (*services.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTenant, s.lastLabel, s.lastHook = tenantID, label, webhookURL
	return s.startRes, s.startErr
}

func (s *stubService) Status(tenantID string) services.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTenant = tenantID
	return s.status
}

func (s *stubService) QR(tenantID string) (*services.QRImage, error) {
	return s.qr, s.qrErr
}

func (s *stubService) Logout(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTenant = tenantID
	s.logouts++
	return nil
}

func (s *stubService) ListAll() []services.SessionSummary { return s.list }

func (s *stubService) SendText(ctx context.Context, tenantID, to, text string) (driver.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTenant, s.lastTo = tenantID, to
	if s.sendErr != nil {
		return driver.SendResult{}, s.sendErr
	}
	return driver.SendResult{MessageID: "3EB0ABC", Timestamp: time.Unix(1700000000, 0)}, nil
}

func (s *stubService) SendMedia(ctx context.Context, tenantID, to string, media driver.Media) (driver.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTenant, s.lastTo, s.lastMedia = tenantID, to, media
	if s.sendErr != nil {
		return driver.SendResult{}, s.sendErr
	}
	return driver.SendResult{MessageID: "3EB0MEDIA", Timestamp: time.Unix(1700000000, 0)}, nil
}

func newTestRouter(svc *stubService) http.Handler {
	log := logger.New("[TEST] ", logger.ERROR)
	return NewRouter(
		NewHandler(svc, 1<<20, log),
		NewSessionHandler(svc, log),
		RouterConfig{APIKey: apiKey},
		log,
	)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAPIKey, apiKey)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestStartSession(t *testing.T) {
	svc := &stubService{startRes: &services.StartResult{
		Status:       services.StatusQRReady,
		SessionLabel: "lbl",
		PairingImage: "data:image/png;base64,AAA",
		ExpiresIn:    60,
	}}
	h := newTestRouter(svc)

	rec, body := do(t, h, http.MethodPost, "/session/start",
		`{"tenantId":"T1","sessionLabel":"lbl","webhookUrl":"https://backend.example/hook"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "qr_ready", body["status"])
	assert.Equal(t, "data:image/png;base64,AAA", body["pairingImage"])
	assert.Equal(t, float64(60), body["expiresIn"])
	assert.Equal(t, "T1", svc.lastTenant)
	assert.Equal(t, "https://backend.example/hook", svc.lastHook)
}

func TestStartSession_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"missing tenant", `{}`, nil, http.StatusBadRequest},
		{"bad tenant", `{"tenantId":"../x"}`, nil, http.StatusBadRequest},
		{"bad webhook", `{"tenantId":"T1","webhookUrl":"ftp://x"}`, nil, http.StatusBadRequest},
		{"unknown field", `{"tenantId":"T1","foo":1}`, nil, http.StatusBadRequest},
		{"pairing timeout", `{"tenantId":"T1"}`, fmt.Errorf("%w: 30s", services.ErrPairingTimeout), http.StatusInternalServerError},
		{"auth failure", `{"tenantId":"T1"}`, services.ErrAuthFailure, http.StatusInternalServerError},
		{"disconnected", `{"tenantId":"T1"}`, fmt.Errorf("%w: sessão T1", services.ErrDisconnected), http.StatusInternalServerError},
		{"driver failure", `{"tenantId":"T1"}`, errors.New("falha ao criar driver"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{startErr: tt.err, startRes: &services.StartResult{Status: services.StatusQRReady}}
			rec, body := do(t, newTestRouter(svc), http.MethodPost, "/session/start", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestStartSession_TenantHeaderFallback(t *testing.T) {
	svc := &stubService{startRes: &services.StartResult{Status: services.StatusConnected, PhoneIdentity: "62811"}}
	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/session/start", `{}`, middleware.HeaderTenantID, "from-header")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "62811", body["phoneIdentity"])
	assert.Equal(t, "from-header", svc.lastTenant)
}

func TestGetStatus(t *testing.T) {
	connectedAt := time.Unix(1700000000, 0).UTC()
	svc := &stubService{status: services.SessionStatus{
		Exists:        true,
		TenantID:      "T1",
		Status:        services.StatusConnected,
		PhoneIdentity: "6281234567890",
		CreatedAt:     connectedAt.Add(-time.Minute),
		ConnectedAt:   &connectedAt,
	}}

	rec, body := do(t, newTestRouter(svc), http.MethodGet, "/session/status?tenantId=T1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "6281234567890", body["phoneIdentity"])
	assert.NotEmpty(t, body["connectedAt"])
	assert.NotEmpty(t, body["createdAt"])
}

func TestGetStatus_Unknown(t *testing.T) {
	svc := &stubService{status: services.SessionStatus{TenantID: "ghost", Status: services.StatusUninitialized}}

	rec, body := do(t, newTestRouter(svc), http.MethodGet, "/session/status?tenantId=ghost", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["exists"])
	assert.Equal(t, "uninitialized", body["status"])
	assert.NotContains(t, body, "createdAt")
}

func TestGetQRCode(t *testing.T) {
	svc := &stubService{qr: &services.QRImage{Image: "data:image/png;base64,QQ", ExpiresIn: 20}}
	rec, body := do(t, newTestRouter(svc), http.MethodGet, "/session/qr?tenantId=T1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data:image/png;base64,QQ", body["pairingImage"])

	svc = &stubService{qrErr: services.ErrNotAvailable}
	rec, body = do(t, newTestRouter(svc), http.MethodGet, "/session/qr?tenantId=T1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "not available", body["message"])
}

func TestLogout(t *testing.T) {
	svc := &stubService{}
	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/session/logout", `{"tenantId":"T1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, 1, svc.logouts)
}

func TestListSessions(t *testing.T) {
	svc := &stubService{list: []services.SessionSummary{
		{TenantID: "a", Status: services.StatusConnected, PhoneIdentity: "62811"},
		{TenantID: "b", Status: services.StatusQRReady},
	}}

	rec, body := do(t, newTestRouter(svc), http.MethodGet, "/session/list", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	assert.Len(t, sessions, 2)
}

func TestSendMessage(t *testing.T) {
	svc := &stubService{}
	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/message/send",
		`{"tenantId":"T1","to":"+62 812-3456-7890","message":"halo"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3EB0ABC", body["messageId"])
	assert.Equal(t, float64(1700000000), body["timestamp"])
	assert.Equal(t, "+62 812-3456-7890", svc.lastTo)
}

func TestSendMessage_NotConnected(t *testing.T) {
	svc := &stubService{sendErr: fmt.Errorf("%w: sessão T1 em estado qr_ready", services.ErrNotConnected)}
	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/message/send",
		`{"tenantId":"T1","to":"6281234567890","message":"halo"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_CONNECTED", body["code"])
}

func TestSendMessage_Validation(t *testing.T) {
	for _, body := range []string{
		`{"tenantId":"T1","to":"","message":"x"}`,
		`{"tenantId":"T1","to":"6281234567890","message":""}`,
		`{"tenantId":"T1","to":"abc","message":"x"}`,
		`not json`,
	} {
		rec, _ := do(t, newTestRouter(&stubService{}), http.MethodPost, "/message/send", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestSendMedia(t *testing.T) {
	svc := &stubService{}
	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/message/send-media",
		`{"tenantId":"T1","to":"6281234567890","mediaUrl":"https://cdn.example/a.png","caption":"hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3EB0MEDIA", body["messageId"])
	assert.Equal(t, "https://cdn.example/a.png", svc.lastMedia.URL)
	assert.Equal(t, "hi", svc.lastMedia.Caption)

	rec, _ = do(t, newTestRouter(svc), http.MethodPost, "/message/send-media",
		`{"tenantId":"T1","to":"6281234567890"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "media source required")

	rec, _ = do(t, newTestRouter(svc), http.MethodPost, "/message/send-media",
		`{"tenantId":"T1","to":"6281234567890","mediaBase64":"AAAA"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "mimeType required with base64")

	svc.sendErr = fmt.Errorf("%w: status 404", driver.ErrMediaSource)
	rec, body = do(t, newTestRouter(svc), http.MethodPost, "/message/send-media",
		`{"tenantId":"T1","to":"6281234567890","mediaUrl":"https://cdn.example/missing.png"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_MEDIA", body["code"])
}

func TestAuthRequired(t *testing.T) {
	h := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/session/list", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "health needs no key")
}

func TestHealthCheck(t *testing.T) {
	svc := &stubService{list: []services.SessionSummary{
		{TenantID: "a", Status: services.StatusConnected},
		{TenantID: "b", Status: services.StatusQRReady},
	}}

	rec, body := do(t, newTestRouter(svc), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	checks, ok := body["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2", checks["sessions"])
	assert.Equal(t, "1", checks["connected"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestRouter(&stubService{})

	rec, body := do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	rec, body = do(t, h, http.MethodGet, "/session/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", body["code"])
}
