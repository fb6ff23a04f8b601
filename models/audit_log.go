package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionSignIn         AuditAction = "sign_in"
	AuditActionSignInFailed   AuditAction = "sign_in_failed"
	AuditActionSignOut        AuditAction = "sign_out"
	AuditActionSessionExpired AuditAction = "session_expired"
	AuditActionRoleRefreshed  AuditAction = "role_refreshed"
	AuditActionAccessDenied   AuditAction = "access_denied"
)

// AuditLog represents an authentication audit trail entry
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	SessionID    *uuid.UUID      `json:"session_id,omitempty" db:"session_id"`
	PrincipalID  string          `json:"principal_id" db:"principal_id"` // Cognito subject
	Email        string          `json:"email" db:"email"`
	Action       AuditAction     `json:"action" db:"action"`
	Role         *string         `json:"role,omitempty" db:"role"`
	RoleSource   *string         `json:"role_source,omitempty" db:"role_source"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "auth_audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, principalID, email string) *AuditLog {
	return &AuditLog{
		ID:          uuid.New(),
		PrincipalID: principalID,
		Email:       email,
		Action:      action,
		Timestamp:   time.Now(),
	}
}

// WithSession sets the session ID
func (a *AuditLog) WithSession(sessionID uuid.UUID) *AuditLog {
	if sessionID != uuid.Nil {
		a.SessionID = &sessionID
	}
	return a
}

// WithRole records the role and its provenance
func (a *AuditLog) WithRole(role, source string) *AuditLog {
	a.Role = &role
	a.RoleSource = &source
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(err error) *AuditLog {
	if err != nil {
		msg := err.Error()
		a.ErrorMessage = &msg
	}
	return a
}
