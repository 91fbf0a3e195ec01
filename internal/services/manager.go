// Package services owns the per-tenant session table and drives each
// session's state machine from driver events.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/internal/webhook"
	"whatsapp-gateway-golang/pkg/logger"
	"whatsapp-gateway-golang/pkg/validator"
)

// CredentialDirPrefix prefixes every tenant directory under AuthDir.
const CredentialDirPrefix = "session-"

const defaultPairingTimeout = 30 * time.Second

func CredentialDir(authDir, tenantID string) string {
	return filepath.Join(authDir, CredentialDirPrefix+tenantID)
}

type ManagerConfig struct {
	AuthDir           string
	DefaultWebhookURL string
	PairingTimeout    time.Duration
}

type QREncoder interface {
	Encode(token string) (string, error)
}

type Notifier interface {
	Emit(ctx context.Context, url string, p webhook.Payload) bool
}

// SessionStore persists session metadata. Writes are best effort.
type SessionStore interface {
	Save(ctx context.Context, session *models.SessionMetadata) error
	UpdateStatus(ctx context.Context, tenantID, status, phoneIdentity string, connectedAt *time.Time) error
	Delete(ctx context.Context, tenantID string) error
}

type SessionStatus struct {
	Exists          bool
	TenantID        string
	SessionLabel    string
	Status          SessionState
	PhoneIdentity   string
	CreatedAt       time.Time
	ConnectedAt     *time.Time
	PairingIssuedAt time.Time
}

type StartResult struct {
	Status        SessionState
	SessionLabel  string
	PairingImage  string
	ExpiresIn     int
	PhoneIdentity string
}

type QRImage struct {
	Image     string
	IssuedAt  time.Time
	ExpiresIn int
}

type SessionSummary struct {
	TenantID      string
	SessionLabel  string
	Status        SessionState
	PhoneIdentity string
	ConnectedAt   *time.Time
}

type SessionManager struct {
	cfg      ManagerConfig
	factory  driver.Factory
	encoder  QREncoder
	notifier Notifier
	store    SessionStore
	logger   *logger.Logger

	// baseCtx bounds outbox work; cancelled only when Shutdown gives up.
	baseCtx context.Context
	cancel  context.CancelFunc

	lifecycle sync.Map // tenantID -> *sync.Mutex

	mu       sync.Mutex
	sessions map[string]*SessionRecord
	draining map[string][]*SessionRecord
	closed   bool

	created atomic.Int64
}

func NewSessionManager(cfg ManagerConfig, factory driver.Factory, encoder QREncoder, notifier Notifier, store SessionStore, log *logger.Logger) *SessionManager {
	if cfg.PairingTimeout <= 0 {
		cfg.PairingTimeout = defaultPairingTimeout
	}
	if store == nil {
		store = noopStore{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:      cfg,
		factory:  factory,
		encoder:  encoder,
		notifier: notifier,
		store:    store,
		logger:   log,
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*SessionRecord),
		draining: make(map[string][]*SessionRecord),
	}
}

// Start creates the tenant's session, or returns the existing one when it
// is already connected. Any other existing record is destroyed first. Start
// returns once the session leaves initializing, or fails with
// ErrPairingTimeout after the pairing window.
func (m *SessionManager) Start(ctx context.Context, tenantID, label, webhookURL string) (*StartResult, error) {
	if err := validator.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	rec, existing, err := m.create(ctx, tenantID, label, webhookURL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return m.awaitPairing(ctx, rec)
}

func (m *SessionManager) create(ctx context.Context, tenantID, label, webhookURL string) (*SessionRecord, *StartResult, error) {
	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrShuttingDown
	}
	if old, ok := m.sessions[tenantID]; ok {
		if old.Status == StatusConnected {
			res := &StartResult{
				Status:        old.Status,
				SessionLabel:  old.SessionLabel,
				PhoneIdentity: old.PhoneIdentity,
			}
			m.mu.Unlock()
			m.logger.Infof("Sessão %s já conectada", tenantID)
			return nil, res, nil
		}
		m.logger.Infof("Substituindo sessão %s em estado %s", tenantID, old.Status)
		m.detachLocked(old, StatusDestroyed, false)
		old.outbox.close()
	}
	pending := append([]*SessionRecord(nil), m.draining[tenantID]...)
	m.mu.Unlock()

	// the credential directory must be free before a new driver opens it
	for _, old := range pending {
		m.release(old)
	}

	if label == "" {
		label = uuid.NewString()
	}
	if webhookURL == "" {
		webhookURL = m.cfg.DefaultWebhookURL
	}
	rec := newSessionRecord(tenantID, label, webhookURL)

	drv, err := m.factory.New(ctx, tenantID, CredentialDir(m.cfg.AuthDir, tenantID), func(ev driver.Event) {
		m.handleEvent(rec, ev)
	})
	if err != nil {
		rec.outbox.close()
		return nil, nil, fmt.Errorf("falha ao criar driver: %w", err)
	}
	m.created.Add(1)
	rec.driver = drv

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		rec.outbox.close()
		drv.Destroy()
		return nil, nil, ErrShuttingDown
	}
	m.sessions[tenantID] = rec
	m.mu.Unlock()

	meta := &models.SessionMetadata{
		TenantID:     rec.TenantID,
		SessionLabel: rec.SessionLabel,
		WebhookURL:   rec.WebhookURL,
		Status:       StatusInitializing.String(),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.CreatedAt,
	}
	rec.outbox.push(func() {
		if err := m.store.Save(m.baseCtx, meta); err != nil {
			m.logger.Warnf("[%s] Falha ao salvar metadados: %v", tenantID, err)
		}
	})

	m.logger.Infof("Inicializando sessão %s (%s)", tenantID, label)
	if err := drv.Initialize(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[tenantID] == rec {
			m.detachLocked(rec, StatusDestroyed, false)
		}
		m.mu.Unlock()
		m.persistStatus(rec, StatusDestroyed, "", nil)
		rec.outbox.close()
		m.release(rec)
		return nil, nil, fmt.Errorf("falha ao inicializar driver: %w", err)
	}
	return rec, nil, nil
}

func (m *SessionManager) awaitPairing(ctx context.Context, rec *SessionRecord) (*StartResult, error) {
	timer := time.NewTimer(m.cfg.PairingTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-rec.settled:
	case <-timer.C:
		cause = ErrPairingTimeout
	case <-ctx.Done():
		cause = ctx.Err()
	}

	m.mu.Lock()
	current := m.sessions[rec.TenantID] == rec
	if cause != nil && current && rec.Status == StatusInitializing {
		m.detachLocked(rec, StatusDestroyed, false)
		m.mu.Unlock()

		m.persistStatus(rec, StatusDestroyed, "", nil)
		rec.outbox.close()
		m.release(rec)

		if errors.Is(cause, ErrPairingTimeout) {
			m.logger.Warnf("Sessão %s: nenhum QR code em %s", rec.TenantID, m.cfg.PairingTimeout)
			return nil, fmt.Errorf("%w: nenhum QR code em %s", ErrPairingTimeout, m.cfg.PairingTimeout)
		}
		return nil, cause
	}
	defer m.mu.Unlock()

	if !current {
		switch {
		case rec.Status == StatusAuthFailed:
			return nil, ErrAuthFailure
		case rec.Status == StatusDisconnected:
			return nil, fmt.Errorf("%w: sessão %s", ErrDisconnected, rec.TenantID)
		case m.closed:
			return nil, ErrShuttingDown
		default:
			return nil, fmt.Errorf("%w: sessão %s encerrada em estado %s", ErrSessionReplaced, rec.TenantID, rec.Status)
		}
	}

	return &StartResult{
		Status:        rec.Status,
		SessionLabel:  rec.SessionLabel,
		PairingImage:  rec.PairingImage,
		ExpiresIn:     rec.expiresIn(time.Now()),
		PhoneIdentity: rec.PhoneIdentity,
	}, nil
}

func (m *SessionManager) handleEvent(rec *SessionRecord, ev driver.Event) {
	var image string
	if ev.Kind == driver.EventQR {
		img, err := m.encoder.Encode(ev.Code)
		if err != nil {
			m.logger.Errorf("[%s] Falha ao gerar QR code: %v", rec.TenantID, err)
			return
		}
		image = img
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[rec.TenantID] != rec {
		m.logger.Debugf("[%s] Evento %s de sessão antiga ignorado", rec.TenantID, ev.Kind)
		return
	}

	switch ev.Kind {
	case driver.EventQR:
		if !rec.Status.Pairing() {
			return
		}
		rec.setStatus(StatusQRReady)
		rec.PairingImage = image
		rec.PairingIssuedAt = time.Now()
		rec.PairingExpires = ev.Expires
		m.notifyLocked(rec, webhook.Payload{Event: webhook.EventQRReady, Status: StatusQRReady.String()})
		m.persistStatus(rec, StatusQRReady, "", nil)

	case driver.EventAuthenticated:
		if !rec.Status.Pairing() {
			return
		}
		rec.setStatus(StatusAuthenticated)
		m.notifyLocked(rec, webhook.Payload{Event: webhook.EventAuthenticated, Status: StatusAuthenticated.String()})
		m.persistStatus(rec, StatusAuthenticated, "", nil)

	case driver.EventReady:
		if !rec.Status.Pairing() && rec.Status != StatusAuthenticated {
			return
		}
		rec.setStatus(StatusConnected)
		rec.PhoneIdentity = ev.PhoneIdentity
		rec.ConnectedAt = time.Now()
		m.logger.Infof("Sessão %s conectada como %s", rec.TenantID, rec.PhoneIdentity)
		m.notifyLocked(rec, webhook.Payload{
			Event:         webhook.EventConnectionUpdate,
			Status:        StatusConnected.String(),
			PhoneIdentity: rec.PhoneIdentity,
		})
		connectedAt := rec.ConnectedAt
		m.persistStatus(rec, StatusConnected, rec.PhoneIdentity, &connectedAt)

	case driver.EventAuthFailure:
		if !rec.Status.Pairing() && rec.Status != StatusAuthenticated {
			m.logger.Warnf("[%s] Falha de autenticação ignorada em estado %s", rec.TenantID, rec.Status)
			return
		}
		reason := ev.Reason
		if reason == "" && ev.Err != nil {
			reason = ev.Err.Error()
		}
		m.logger.Errorf("Sessão %s: falha de autenticação: %s", rec.TenantID, reason)
		m.detachLocked(rec, StatusAuthFailed, true)
		m.notifyLocked(rec, webhook.Payload{Event: webhook.EventAuthFailure, Status: "error", Error: reason})
		m.teardownLocked(rec, true)

	case driver.EventDisconnected:
		m.logger.Warnf("Sessão %s desconectada: %s", rec.TenantID, ev.Reason)
		m.detachLocked(rec, StatusDisconnected, ev.LoggedOut)
		m.notifyLocked(rec, webhook.Payload{
			Event:  webhook.EventDisconnected,
			Status: StatusDisconnected.String(),
			Reason: ev.Reason,
		})
		m.teardownLocked(rec, ev.LoggedOut)

	case driver.EventMessage:
		if rec.Status != StatusConnected || ev.Message == nil {
			return
		}
		msg := ev.Message
		m.notifyLocked(rec, webhook.Payload{
			Event: webhook.EventMessageReceived,
			Message: &webhook.MessagePayload{
				ID:        msg.ID,
				From:      msg.From,
				Body:      msg.Body,
				Timestamp: msg.Timestamp.Unix(),
				Type:      msg.Type,
			},
		})
	}
}

// detachLocked removes rec from the table and parks it until its driver
// is released. Caller holds m.mu.
func (m *SessionManager) detachLocked(rec *SessionRecord, status SessionState, purge bool) {
	if m.sessions[rec.TenantID] == rec {
		delete(m.sessions, rec.TenantID)
	}
	// a record still showing a pairing code never linked a device; its
	// store holds nothing a later restore could use
	if rec.Status == StatusQRReady {
		purge = true
	}
	rec.setStatus(status)
	rec.purge = rec.purge || purge
	m.draining[rec.TenantID] = append(m.draining[rec.TenantID], rec)
}

// teardownLocked queues the final side effects of a detached record and
// closes its outbox. The driver is released from the outbox goroutine,
// never from the driver's own event callback.
func (m *SessionManager) teardownLocked(rec *SessionRecord, forget bool) {
	if forget {
		rec.outbox.push(func() {
			if err := m.store.Delete(m.baseCtx, rec.TenantID); err != nil {
				m.logger.Warnf("[%s] Falha ao remover metadados: %v", rec.TenantID, err)
			}
		})
	} else {
		m.persistStatus(rec, rec.Status, "", nil)
	}
	rec.outbox.push(func() { m.release(rec) })
	rec.outbox.close()
}

// release destroys rec's driver exactly once and purges its credential
// directory when marked. Concurrent callers block until that is done.
func (m *SessionManager) release(rec *SessionRecord) {
	rec.releaseOnce.Do(func() {
		if rec.driver != nil {
			rec.driver.Destroy()
		}

		m.mu.Lock()
		purge := rec.purge
		m.mu.Unlock()
		if purge {
			m.purgeCredentials(rec.TenantID)
		}

		m.mu.Lock()
		list := m.draining[rec.TenantID]
		for i, r := range list {
			if r == rec {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(m.draining, rec.TenantID)
		} else {
			m.draining[rec.TenantID] = list
		}
		m.mu.Unlock()

		m.logger.Debugf("[%s] Driver liberado", rec.TenantID)
		close(rec.released)
	})
	<-rec.released
}

func (m *SessionManager) purgeCredentials(tenantID string) {
	dir := CredentialDir(m.cfg.AuthDir, tenantID)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warnf("[%s] Falha ao remover credenciais em %s: %v", tenantID, dir, err)
		return
	}
	m.logger.Infof("[%s] Credenciais removidas", tenantID)
}

func (m *SessionManager) notifyLocked(rec *SessionRecord, p webhook.Payload) {
	p.TenantID = rec.TenantID
	p.SessionLabel = rec.SessionLabel
	p.Timestamp = time.Now().Unix()
	url := rec.WebhookURL
	rec.outbox.push(func() {
		m.notifier.Emit(m.baseCtx, url, p)
	})
}

func (m *SessionManager) persistStatus(rec *SessionRecord, status SessionState, phoneIdentity string, connectedAt *time.Time) {
	rec.outbox.push(func() {
		if err := m.store.UpdateStatus(m.baseCtx, rec.TenantID, status.String(), phoneIdentity, connectedAt); err != nil {
			m.logger.Warnf("[%s] Falha ao atualizar metadados: %v", rec.TenantID, err)
		}
	})
}

func (m *SessionManager) lifecycleLock(tenantID string) *sync.Mutex {
	l, _ := m.lifecycle.LoadOrStore(tenantID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Status is a pure read of the tenant's record.
func (m *SessionManager) Status(tenantID string) SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[tenantID]
	if !ok {
		return SessionStatus{TenantID: tenantID, Status: StatusUninitialized}
	}
	return rec.snapshot()
}

// QR returns the pairing image while the session is qr_ready and
// ErrNotAvailable otherwise.
func (m *SessionManager) QR(tenantID string) (*QRImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[tenantID]
	if !ok || rec.Status != StatusQRReady || rec.PairingImage == "" {
		return nil, ErrNotAvailable
	}
	return &QRImage{
		Image:     rec.PairingImage,
		IssuedAt:  rec.PairingIssuedAt,
		ExpiresIn: rec.expiresIn(time.Now()),
	}, nil
}

// Logout signs the device out, destroys the record and purges the tenant's
// credential directory. Unknown tenants succeed.
func (m *SessionManager) Logout(ctx context.Context, tenantID string) error {
	if err := validator.ValidateTenantID(tenantID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTenantID, err)
	}

	lock := m.lifecycleLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	rec := m.sessions[tenantID]
	if rec != nil {
		m.detachLocked(rec, StatusDestroyed, true)
	}
	pending := append([]*SessionRecord(nil), m.draining[tenantID]...)
	m.mu.Unlock()

	if rec != nil {
		if err := rec.driver.Logout(ctx); err != nil {
			m.logger.Warnf("[%s] Falha no logout do driver: %v", tenantID, err)
		}
		rec.outbox.push(func() {
			if err := m.store.Delete(m.baseCtx, tenantID); err != nil {
				m.logger.Warnf("[%s] Falha ao remover metadados: %v", tenantID, err)
			}
		})
		rec.outbox.close()
	} else if err := m.store.Delete(ctx, tenantID); err != nil {
		m.logger.Warnf("[%s] Falha ao remover metadados: %v", tenantID, err)
	}

	for _, r := range pending {
		m.release(r)
	}
	m.purgeCredentials(tenantID)

	m.logger.Infof("Sessão %s encerrada", tenantID)
	return nil
}

func (m *SessionManager) ListAll() []SessionSummary {
	m.mu.Lock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, rec := range m.sessions {
		s := rec.snapshot()
		out = append(out, SessionSummary{
			TenantID:      s.TenantID,
			SessionLabel:  s.SessionLabel,
			Status:        s.Status,
			PhoneIdentity: s.PhoneIdentity,
			ConnectedAt:   s.ConnectedAt,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

func (m *SessionManager) connectedDriver(tenantID string) (driver.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: sessão %s não existe", ErrNotConnected, tenantID)
	}
	if rec.Status != StatusConnected {
		return nil, fmt.Errorf("%w: sessão %s em estado %s", ErrNotConnected, tenantID, rec.Status)
	}
	return rec.driver, nil
}

// SendText delivers text through the tenant's driver. It never queues:
// a session that is not connected fails with ErrNotConnected.
func (m *SessionManager) SendText(ctx context.Context, tenantID, to, text string) (driver.SendResult, error) {
	drv, err := m.connectedDriver(tenantID)
	if err != nil {
		return driver.SendResult{}, err
	}
	return drv.SendText(ctx, to, text)
}

func (m *SessionManager) SendMedia(ctx context.Context, tenantID, to string, media driver.Media) (driver.SendResult, error) {
	drv, err := m.connectedDriver(tenantID)
	if err != nil {
		return driver.SendResult{}, err
	}
	return drv.SendMedia(ctx, to, media)
}

// DriversCreated counts driver instances created since startup.
func (m *SessionManager) DriversCreated() int64 {
	return m.created.Load()
}

// Shutdown releases every driver without logging out, so credentials stay
// on disk for the next restore, and waits for pending outbox work.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	active := make([]*SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		active = append(active, rec)
	}
	for _, rec := range active {
		m.detachLocked(rec, StatusDestroyed, false)
	}
	var all []*SessionRecord
	for _, list := range m.draining {
		all = append(all, list...)
	}
	m.mu.Unlock()

	m.logger.Infof("Desconectando %d sessões...", len(active))
	for _, rec := range active {
		rec.outbox.close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, rec := range all {
			m.release(rec)
		}
		for _, rec := range all {
			_ = rec.outbox.wait(context.Background())
		}
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}

type noopStore struct{}

func (noopStore) Save(context.Context, *models.SessionMetadata) error { return nil }

func (noopStore) UpdateStatus(context.Context, string, string, string, *time.Time) error {
	return nil
}

func (noopStore) Delete(context.Context, string) error { return nil }
