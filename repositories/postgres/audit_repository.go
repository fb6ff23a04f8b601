package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/models"
	"github.com/upb/realty-dashboard/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, session_id, principal_id, email, action, role, role_source,
		       details, ip_address, user_agent, request_id, error_message, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO auth_audit_logs (
			id, session_id, principal_id, email, action, role, role_source,
			details, ip_address, user_agent, request_id, error_message, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.SessionID,
		log.PrincipalID,
		log.Email,
		log.Action,
		log.Role,
		log.RoleSource,
		log.Details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.ErrorMessage,
		log.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE id = $1
	`

	log, err := scanAuditLog(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit log %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return log, nil
}

// GetByPrincipal retrieves audit logs for a principal with pagination
func (r *AuditRepository) GetByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE principal_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryAuditLogs(ctx, query, principalID, limit, offset)
}

// GetBySession retrieves the audit logs recorded for one session
func (r *AuditRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`

	return r.queryAuditLogs(ctx, query, sessionID)
}

// GetByAction retrieves audit logs by action type
func (r *AuditRepository) GetByAction(ctx context.Context, action models.AuditAction, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE action = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryAuditLogs(ctx, query, action, limit, offset)
}

// GetByDateRange retrieves audit logs within a date range
func (r *AuditRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + `
		FROM auth_audit_logs
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`

	return r.queryAuditLogs(ctx, query, start, end, limit, offset)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var details []byte
	err := row.Scan(
		&log.ID,
		&log.SessionID,
		&log.PrincipalID,
		&log.Email,
		&log.Action,
		&log.Role,
		&log.RoleSource,
		&details,
		&log.IPAddress,
		&log.UserAgent,
		&log.RequestID,
		&log.ErrorMessage,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	log.Details = details
	return log, nil
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
