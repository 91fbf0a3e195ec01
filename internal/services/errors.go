package services

import "errors"

var (
	ErrPairingTimeout  = errors.New("PAIRING_TIMEOUT")
	ErrNotConnected    = errors.New("NOT_CONNECTED")
	ErrAuthFailure     = errors.New("AUTH_FAILURE")
	ErrDisconnected    = errors.New("DISCONNECTED")
	ErrNotAvailable    = errors.New("not available")
	ErrSessionReplaced = errors.New("SESSION_REPLACED")
	ErrInvalidTenantID = errors.New("INVALID_TENANT_ID")
	ErrShuttingDown    = errors.New("SHUTTING_DOWN")
)
