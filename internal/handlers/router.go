package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"whatsapp-gateway-golang/internal/middleware"
	"whatsapp-gateway-golang/pkg/logger"
)

type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
}

// NewRouter wires every gateway route. All routes except /health require
// the API key.
func NewRouter(h *Handler, sh *SessionHandler, cfg RouterConfig, log *logger.Logger) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)

	auth := middleware.AuthMiddleware(cfg.APIKey, log)
	protected := func(fn http.HandlerFunc) http.Handler { return auth(fn) }

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	r.Handle("/session/start", protected(sh.StartSession)).Methods(http.MethodPost)
	r.Handle("/session/status", protected(sh.GetStatus)).Methods(http.MethodGet)
	r.Handle("/session/qr", protected(sh.GetQRCode)).Methods(http.MethodGet)
	r.Handle("/session/logout", protected(sh.Logout)).Methods(http.MethodPost)
	r.Handle("/session/list", protected(sh.ListSessions)).Methods(http.MethodGet)

	r.Handle("/message/send", protected(h.SendTextMessage)).Methods(http.MethodPost)
	r.Handle("/message/send-media", protected(h.SendMediaMessage)).Methods(http.MethodPost)

	return middleware.Chain(
		r,
		middleware.RecoveryMiddleware(log),
		middleware.LoggingMiddleware(log),
		middleware.CORSMiddleware(cfg.AllowedOrigins),
		middleware.ContentTypeMiddleware(),
	)
}
