// Package driver wraps the messaging-network client behind a small
// lifecycle/event surface so the session manager never touches protocol
// details.
package driver

import (
	"context"
	"errors"
	"time"
)

type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventAuthFailure   EventKind = "auth_failure"
	EventDisconnected  EventKind = "disconnected"
	EventMessage       EventKind = "message"
)

var (
	ErrInvalidRecipient = errors.New("INVALID_RECIPIENT")
	ErrMediaSource      = errors.New("INVALID_MEDIA_SOURCE")
)

type Event struct {
	Kind EventKind

	// QR
	Code    string
	Expires time.Duration

	// ready
	PhoneIdentity string

	// auth_failure / disconnected
	Reason    string
	LoggedOut bool
	Err       error

	// message
	Message *InboundMessage
}

type InboundMessage struct {
	ID        string
	From      string
	Body      string
	Timestamp time.Time
	Type      string
}

type SendResult struct {
	MessageID string
	Timestamp time.Time
}

type Media struct {
	URL      string
	Base64   string
	MimeType string
	Caption  string
}

// Handler receives driver events in the order the protocol layer produces
// them.
type Handler func(Event)

type Driver interface {
	// Initialize starts the connection. A fresh device produces EventQR;
	// a paired one re-authenticates silently. EventQR is never emitted for
	// a store that already holds a linked device.
	Initialize(ctx context.Context) error
	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media Media) (SendResult, error)
	// Logout unlinks the device from the account.
	Logout(ctx context.Context) error
	// Destroy closes the connection and releases the credential store.
	// Safe to call more than once.
	Destroy()
}

type Factory interface {
	New(ctx context.Context, tenantID, credentialDir string, handler Handler) (Driver, error)
}
