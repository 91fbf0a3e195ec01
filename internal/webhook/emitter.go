// Package webhook delivers session events to the owning backend.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"whatsapp-gateway-golang/pkg/logger"
)

const (
	EventQRReady          = "qr.ready"
	EventAuthenticated    = "authenticated"
	EventConnectionUpdate = "connection.update"
	EventAuthFailure      = "auth.failure"
	EventDisconnected     = "disconnected"
	EventMessageReceived  = "message.received"
)

const (
	HeaderSecret    = "X-Gateway-Secret"
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Gateway-Signature"
	HeaderTimestamp = "X-Gateway-Timestamp"

	userAgent = "WhatsApp-Gateway-Webhook/1.0"
)

var ErrDeliveryFailed = errors.New("WEBHOOK_DELIVERY_FAILED")

// Payload is the JSON body of every webhook. Event-specific fields are
// omitted when empty.
type Payload struct {
	Event         string          `json:"event"`
	TenantID      string          `json:"tenantId"`
	SessionLabel  string          `json:"sessionLabel"`
	Timestamp     int64           `json:"timestamp"`
	Status        string          `json:"status,omitempty"`
	PhoneIdentity string          `json:"phoneIdentity,omitempty"`
	Error         string          `json:"error,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Message       *MessagePayload `json:"message,omitempty"`
}

type MessagePayload struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

type Config struct {
	Secret      string
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

type Emitter struct {
	cfg        Config
	httpClient *http.Client
	logger     *logger.Logger
}

func NewEmitter(cfg Config, log *logger.Logger) *Emitter {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Emitter{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   cfg.Timeout,
		},
		logger: log,
	}
}

// Emit posts payload to url, retrying with a linearly growing delay
// (attempt x BaseDelay). It never returns an error: the outcome is only the
// boolean and the log.
func (e *Emitter) Emit(ctx context.Context, url string, p Payload) bool {
	if url == "" {
		e.logger.Debugf("[%s] Nenhuma URL de webhook configurada, evento %s ignorado", p.TenantID, p.Event)
		return false
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().Unix()
	}

	body, err := json.Marshal(p)
	if err != nil {
		e.logger.Errorf("[%s] Falha ao serializar webhook %s: %v", p.TenantID, p.Event, err)
		return false
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err = e.post(ctx, url, p.Event, body)
		if err == nil {
			e.logger.Debugf("[%s] Webhook %s entregue na tentativa %d", p.TenantID, p.Event, attempt)
			return true
		}

		e.logger.Warnf("[%s] Tentativa %d/%d do webhook %s falhou: %v", p.TenantID, attempt, e.cfg.MaxAttempts, p.Event, err)
		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * e.cfg.BaseDelay
		select {
		case <-ctx.Done():
			e.logger.Warnf("[%s] Entrega do webhook %s cancelada: %v", p.TenantID, p.Event, ctx.Err())
			return false
		case <-time.After(delay):
		}
	}

	e.logger.Errorf("[%s] %v: evento %s após %d tentativas", p.TenantID, ErrDeliveryFailed, p.Event, e.cfg.MaxAttempts)
	return false
}

func (e *Emitter) post(ctx context.Context, url, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("falha ao criar requisição: %w", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderTimestamp, ts)
	if e.cfg.Secret != "" {
		req.Header.Set(HeaderSecret, e.cfg.Secret)
		req.Header.Set(HeaderSignature, "sha256="+Sign(e.cfg.Secret, body))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		_, _ = io.Copy(io.Discard, io.LimitReader(Body, 64<<10))
		if err := Body.Close(); err != nil {
			e.logger.Errorf("falha ao fechar corpo da resposta: %v", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
