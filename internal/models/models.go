package models

import "time"

// SessionMetadata is the persisted part of a tenant session. Credentials
// live in the driver store, not here.
type SessionMetadata struct {
	TenantID      string     `json:"tenantId"`
	SessionLabel  string     `json:"sessionLabel"`
	WebhookURL    string     `json:"webhookUrl,omitempty"`
	Status        string     `json:"status"`
	PhoneIdentity string     `json:"phoneIdentity,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ConnectedAt   *time.Time `json:"connectedAt,omitempty"`
}

type StartSessionRequest struct {
	TenantID     string `json:"tenantId"`
	SessionLabel string `json:"sessionLabel,omitempty"`
	WebhookURL   string `json:"webhookUrl,omitempty"`
}

type LogoutRequest struct {
	TenantID string `json:"tenantId"`
}

type SendMessageRequest struct {
	TenantID string `json:"tenantId"`
	To       string `json:"to"`
	Message  string `json:"message"`
}

type SendMediaRequest struct {
	TenantID    string `json:"tenantId"`
	To          string `json:"to"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	MediaBase64 string `json:"mediaBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

type StartSessionResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	SessionLabel  string `json:"sessionLabel"`
	PairingImage  string `json:"pairingImage,omitempty"`
	ExpiresIn     int    `json:"expiresIn,omitempty"`
	PhoneIdentity string `json:"phoneIdentity,omitempty"`
}

type SessionStatusResponse struct {
	Success       bool       `json:"success"`
	Exists        bool       `json:"exists"`
	Status        string     `json:"status"`
	SessionLabel  string     `json:"sessionLabel,omitempty"`
	PhoneIdentity string     `json:"phoneIdentity,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	ConnectedAt   *time.Time `json:"connectedAt,omitempty"`
}

type QRResponse struct {
	Success      bool   `json:"success"`
	PairingImage string `json:"pairingImage"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

type SessionSummary struct {
	TenantID      string     `json:"tenantId"`
	SessionLabel  string     `json:"sessionLabel"`
	Status        string     `json:"status"`
	PhoneIdentity string     `json:"phoneIdentity,omitempty"`
	ConnectedAt   *time.Time `json:"connectedAt,omitempty"`
}

type SessionListResponse struct {
	Success  bool             `json:"success"`
	Count    int              `json:"count"`
	Sessions []SessionSummary `json:"sessions"`
}

type MessageSentResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewSuccessResponse(message string) *APIResponse {
	return &APIResponse{
		Success: true,
		Message: message,
	}
}

func NewErrorResponse(message, code string) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Message: message,
		Code:    code,
	}
}
