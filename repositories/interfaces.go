package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// AuditRepository handles authentication audit log operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// GetByPrincipal retrieves audit logs for a principal with pagination
	GetByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditLog, error)

	// GetBySession retrieves the audit logs recorded for one session
	GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLog, error)

	// GetByAction retrieves audit logs by action type
	GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error)

	// GetByDateRange retrieves audit logs within a date range
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error)
}

// RoleHintRepository persists advisory role hints keyed by principal
type RoleHintRepository interface {
	// Load retrieves the hint for a principal, or ErrNotFound
	Load(ctx context.Context, principalID string) (*models.RoleHint, error)

	// Save creates or replaces the hint for hint.PrincipalID
	Save(ctx context.Context, hint *models.RoleHint) error

	// Clear removes the hint for a principal. Clearing a missing hint is not an error.
	Clear(ctx context.Context, principalID string) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	AuditLogs AuditRepository
	RoleHints RoleHintRepository
}
