package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/middleware"
	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/pkg/logger"
	"whatsapp-gateway-golang/pkg/validator"
)

const Version = "1.0.0"

// SessionService is the part of services.SessionManager the HTTP surface
// uses.
type SessionService interface {
	Start(ctx context.Context, tenantID, label, webhookURL string) (*services.StartResult, error)
	Status(tenantID string) services.SessionStatus
	QR(tenantID string) (*services.QRImage, error)
	Logout(ctx context.Context, tenantID string) error
	ListAll() []services.SessionSummary
	SendText(ctx context.Context, tenantID, to, text string) (driver.SendResult, error)
	SendMedia(ctx context.Context, tenantID, to string, media driver.Media) (driver.SendResult, error)
}

type Handler struct {
	service       SessionService
	maxUploadSize int64
	logger        *logger.Logger
	startTime     time.Time
}

func NewHandler(service SessionService, maxUploadSize int64, log *logger.Logger) *Handler {
	return &Handler{
		service:       service,
		maxUploadSize: maxUploadSize,
		logger:        log,
		startTime:     time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorJSON(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, models.NewErrorResponse(message, code))
}

// writeServiceError maps a session-manager error onto the wire format.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidTenantID):
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_TENANT_ID")
	case errors.Is(err, services.ErrNotConnected):
		errorJSON(w, http.StatusBadRequest, "Sessão não está conectada", "NOT_CONNECTED")
	case errors.Is(err, driver.ErrInvalidRecipient):
		errorJSON(w, http.StatusBadRequest, "Destinatário inválido", "INVALID_RECIPIENT")
	case errors.Is(err, driver.ErrMediaSource):
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_MEDIA")
	case errors.Is(err, services.ErrNotAvailable):
		errorJSON(w, http.StatusNotFound, "not available", "NOT_AVAILABLE")
	case errors.Is(err, services.ErrShuttingDown):
		errorJSON(w, http.StatusServiceUnavailable, "Gateway em desligamento", "SHUTTING_DOWN")
	case errors.Is(err, services.ErrPairingTimeout):
		errorJSON(w, http.StatusInternalServerError, "Tempo esgotado aguardando QR code", "PAIRING_TIMEOUT")
	case errors.Is(err, services.ErrAuthFailure):
		errorJSON(w, http.StatusInternalServerError, "Falha de autenticação", "AUTH_FAILURE")
	case errors.Is(err, services.ErrDisconnected):
		errorJSON(w, http.StatusInternalServerError, "Sessão desconectada durante a inicialização", "DISCONNECTED")
	default:
		errorJSON(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

// resolveTenantID prefers the explicit value and falls back to the
// X-Tenant-ID header.
func resolveTenantID(w http.ResponseWriter, r *http.Request, explicit string) (string, bool) {
	tenantID := strings.TrimSpace(explicit)
	if tenantID == "" {
		tenantID = middleware.GetTenantID(r)
	}
	if err := validator.ValidateTenantID(tenantID); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_TENANT_ID")
		return "", false
	}
	return tenantID, true
}

// SendTextMessage sends a text through the tenant's session. A bare "to"
// number without the default country code gets it prepended; foreign
// numbers must be written with a leading + or 00.
func (h *Handler) SendTextMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest

	if err := validator.ValidateJSON(r, &req); err != nil {
		h.logger.Warnf("JSON inválido na requisição de mensagem de texto: %v", err)
		errorJSON(w, http.StatusBadRequest, "Corpo da requisição inválido", "INVALID_JSON")
		return
	}

	tenantID, ok := resolveTenantID(w, r, req.TenantID)
	if !ok {
		return
	}

	if req.To == "" || req.Message == "" {
		h.logger.Warn("Campos obrigatórios ausentes na requisição de mensagem de texto")
		errorJSON(w, http.StatusBadRequest, "Campos obrigatórios ausentes: to, message", "VALIDATION_ERROR")
		return
	}

	if err := validator.ValidateRecipient(req.To); err != nil {
		h.logger.Warnf("Destinatário inválido: %v", err)
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_RECIPIENT")
		return
	}

	res, err := h.service.SendText(r.Context(), tenantID, req.To, req.Message)
	if err != nil {
		h.logger.Errorf("Falha ao enviar mensagem de texto de %s para %s: %v", tenantID, req.To, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MessageSentResponse{
		Success:   true,
		MessageID: res.MessageID,
		Timestamp: res.Timestamp.Unix(),
	})
}

func (h *Handler) SendMediaMessage(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	var req models.SendMediaRequest

	if err := validator.ValidateJSON(r, &req); err != nil {
		h.logger.Warnf("JSON inválido na requisição de mensagem de mídia: %v", err)
		errorJSON(w, http.StatusBadRequest, "Corpo da requisição inválido", "INVALID_JSON")
		return
	}

	tenantID, ok := resolveTenantID(w, r, req.TenantID)
	if !ok {
		return
	}

	if req.To == "" {
		h.logger.Warn("Destinatário ausente na requisição de mensagem de mídia")
		errorJSON(w, http.StatusBadRequest, "Campo obrigatório ausente: to", "VALIDATION_ERROR")
		return
	}

	if req.MediaURL == "" && req.MediaBase64 == "" {
		h.logger.Warn("Fonte de mídia ausente na requisição de mensagem de mídia")
		errorJSON(w, http.StatusBadRequest, "É necessário fornecer mediaUrl ou mediaBase64", "VALIDATION_ERROR")
		return
	}

	if req.MediaBase64 != "" && req.MimeType == "" {
		h.logger.Warn("mimeType ausente para mídia base64")
		errorJSON(w, http.StatusBadRequest, "mimeType é obrigatório ao usar mediaBase64", "VALIDATION_ERROR")
		return
	}

	if err := validator.ValidateRecipient(req.To); err != nil {
		h.logger.Warnf("Destinatário inválido: %v", err)
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_RECIPIENT")
		return
	}

	res, err := h.service.SendMedia(r.Context(), tenantID, req.To, driver.Media{
		URL:      req.MediaURL,
		Base64:   req.MediaBase64,
		MimeType: req.MimeType,
		Caption:  req.Caption,
	})
	if err != nil {
		h.logger.Errorf("Falha ao enviar mensagem de mídia de %s para %s: %v", tenantID, req.To, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.MessageSentResponse{
		Success:   true,
		MessageID: res.MessageID,
		Timestamp: res.Timestamp.Unix(),
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.ListAll()
	connected := 0
	for _, s := range sessions {
		if s.Status == services.StatusConnected {
			connected++
		}
	}

	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Service:   "WhatsApp Gateway",
		Version:   Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks: map[string]string{
			"sessions":  strconv.Itoa(len(sessions)),
			"connected": strconv.Itoa(connected),
		},
	})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	errorJSON(w, http.StatusNotFound, "Endpoint não encontrado: "+r.URL.Path, "NOT_FOUND")
}

func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	errorJSON(w, http.StatusMethodNotAllowed, "Método não permitido: "+r.Method, "METHOD_NOT_ALLOWED")
}
