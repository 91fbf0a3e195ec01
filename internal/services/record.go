package services

import (
	"sync"
	"time"

	"whatsapp-gateway-golang/internal/driver"
)

// SessionRecord is the in-memory state of one tenant connection. Every
// field below the identity block is guarded by SessionManager.mu.
type SessionRecord struct {
	TenantID     string
	SessionLabel string
	WebhookURL   string
	CreatedAt    time.Time

	Status          SessionState
	PairingImage    string
	PairingIssuedAt time.Time
	PairingExpires  time.Duration
	PhoneIdentity   string
	ConnectedAt     time.Time

	driver driver.Driver
	outbox *outbox

	// purge marks the credential directory for removal once the driver
	// is released.
	purge bool

	settleOnce sync.Once
	settled    chan struct{}

	releaseOnce sync.Once
	released    chan struct{}
}

func newSessionRecord(tenantID, label, webhookURL string) *SessionRecord {
	return &SessionRecord{
		TenantID:     tenantID,
		SessionLabel: label,
		WebhookURL:   webhookURL,
		CreatedAt:    time.Now(),
		Status:       StatusInitializing,
		outbox:       newOutbox(),
		settled:      make(chan struct{}),
		released:     make(chan struct{}),
	}
}

// settle wakes the start call waiting for the first transition out of
// initializing.
func (r *SessionRecord) settle() {
	r.settleOnce.Do(func() { close(r.settled) })
}

func (r *SessionRecord) setStatus(s SessionState) {
	r.Status = s
	if s != StatusQRReady {
		r.PairingImage = ""
	}
	if s != StatusInitializing {
		r.settle()
	}
}

func (r *SessionRecord) snapshot() SessionStatus {
	st := SessionStatus{
		Exists:          true,
		TenantID:        r.TenantID,
		SessionLabel:    r.SessionLabel,
		Status:          r.Status,
		PhoneIdentity:   r.PhoneIdentity,
		CreatedAt:       r.CreatedAt,
		PairingIssuedAt: r.PairingIssuedAt,
	}
	if !r.ConnectedAt.IsZero() {
		t := r.ConnectedAt
		st.ConnectedAt = &t
	}
	return st
}

// expiresIn is the remaining lifetime of the current pairing image in whole
// seconds.
func (r *SessionRecord) expiresIn(now time.Time) int {
	if r.PairingImage == "" || r.PairingExpires <= 0 {
		return 0
	}
	left := r.PairingIssuedAt.Add(r.PairingExpires).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left.Round(time.Second) / time.Second)
}
