package handlers

import (
	"net/http"

	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/pkg/logger"
	"whatsapp-gateway-golang/pkg/validator"
)

type SessionHandler struct {
	service SessionService
	logger  *logger.Logger
}

func NewSessionHandler(service SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{service: service, logger: log}
}

func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := validator.ValidateJSON(r, &req); err != nil {
		h.logger.Warnf("JSON inválido na requisição de início de sessão: %v", err)
		errorJSON(w, http.StatusBadRequest, "Corpo da requisição inválido", "INVALID_JSON")
		return
	}

	tenantID, ok := resolveTenantID(w, r, req.TenantID)
	if !ok {
		return
	}

	if err := validator.ValidateWebhookURL(req.WebhookURL); err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error(), "INVALID_WEBHOOK_URL")
		return
	}

	h.logger.Infof("Iniciando sessão do tenant %s", tenantID)

	res, err := h.service.Start(r.Context(), tenantID, req.SessionLabel, req.WebhookURL)
	if err != nil {
		h.logger.Errorf("Falha ao iniciar sessão %s: %v", tenantID, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.StartSessionResponse{
		Success:       true,
		Status:        res.Status.String(),
		SessionLabel:  res.SessionLabel,
		PairingImage:  res.PairingImage,
		ExpiresIn:     res.ExpiresIn,
		PhoneIdentity: res.PhoneIdentity,
	})
}

func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := resolveTenantID(w, r, r.URL.Query().Get("tenantId"))
	if !ok {
		return
	}

	st := h.service.Status(tenantID)
	resp := models.SessionStatusResponse{
		Success:       true,
		Exists:        st.Exists,
		Status:        st.Status.String(),
		SessionLabel:  st.SessionLabel,
		PhoneIdentity: st.PhoneIdentity,
		ConnectedAt:   st.ConnectedAt,
	}
	if st.Exists {
		createdAt := st.CreatedAt
		resp.CreatedAt = &createdAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := resolveTenantID(w, r, r.URL.Query().Get("tenantId"))
	if !ok {
		return
	}

	img, err := h.service.QR(tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.QRResponse{
		Success:      true,
		PairingImage: img.Image,
		ExpiresIn:    img.ExpiresIn,
	})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req models.LogoutRequest
	if err := validator.ValidateJSON(r, &req); err != nil {
		h.logger.Warnf("JSON inválido na requisição de logout: %v", err)
		errorJSON(w, http.StatusBadRequest, "Corpo da requisição inválido", "INVALID_JSON")
		return
	}

	tenantID, ok := resolveTenantID(w, r, req.TenantID)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), tenantID); err != nil {
		h.logger.Errorf("Falha ao encerrar sessão %s: %v", tenantID, err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão encerrada"))
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.ListAll()

	list := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		list = append(list, models.SessionSummary{
			TenantID:      s.TenantID,
			SessionLabel:  s.SessionLabel,
			Status:        s.Status.String(),
			PhoneIdentity: s.PhoneIdentity,
			ConnectedAt:   s.ConnectedAt,
		})
	}

	writeJSON(w, http.StatusOK, models.SessionListResponse{
		Success:  true,
		Count:    len(list),
		Sessions: list,
	})
}

var _ SessionService = (*services.SessionManager)(nil)
