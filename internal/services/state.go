package services

type SessionState string

const (
	StatusUninitialized SessionState = "uninitialized"
	StatusInitializing  SessionState = "initializing"
	StatusQRReady       SessionState = "qr_ready"
	StatusAuthenticated SessionState = "authenticated"
	StatusConnected     SessionState = "connected"
	StatusDisconnected  SessionState = "disconnected"
	StatusAuthFailed    SessionState = "auth_failed"
	StatusDestroyed     SessionState = "destroyed"
)

// Pairing reports whether s is still before authentication.
func (s SessionState) Pairing() bool {
	return s == StatusInitializing || s == StatusQRReady
}

func (s SessionState) String() string { return string(s) }
