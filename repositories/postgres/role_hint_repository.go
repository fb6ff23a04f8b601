package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/realty-dashboard/models"
	"github.com/upb/realty-dashboard/repositories"
	"go.uber.org/zap"
)

// RoleHintRepository implements the repositories.RoleHintRepository interface
type RoleHintRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRoleHintRepository creates a new role hint repository
func NewRoleHintRepository(db *DB, logger *zap.Logger) *RoleHintRepository {
	return &RoleHintRepository{
		db:     db,
		logger: logger,
	}
}

// Load retrieves the hint for a principal
func (r *RoleHintRepository) Load(ctx context.Context, principalID string) (*models.RoleHint, error) {
	query := `
		SELECT principal_id, role, groups, updated_at
		FROM role_hints
		WHERE principal_id = $1
	`

	hint := &models.RoleHint{}
	var groups pq.StringArray

	err := r.db.QueryRowContext(ctx, query, principalID).Scan(
		&hint.PrincipalID,
		&hint.Role,
		&groups,
		&hint.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("role hint for %s: %w", principalID, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load role hint: %w", err)
	}

	hint.Groups = []string(groups)
	return hint, nil
}

// Save creates or replaces the hint for hint.PrincipalID
func (r *RoleHintRepository) Save(ctx context.Context, hint *models.RoleHint) error {
	query := `
		INSERT INTO role_hints (principal_id, role, groups, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET role = EXCLUDED.role, groups = EXCLUDED.groups, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		hint.PrincipalID,
		hint.Role,
		pq.Array(hint.Groups),
		hint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save role hint: %w", err)
	}

	r.logger.Debug("role hint saved",
		zap.String("principal", hint.PrincipalID),
		zap.String("role", hint.Role.String()))
	return nil
}

// Clear removes the hint for a principal
func (r *RoleHintRepository) Clear(ctx context.Context, principalID string) error {
	query := `DELETE FROM role_hints WHERE principal_id = $1`

	if _, err := r.db.ExecContext(ctx, query, principalID); err != nil {
		return fmt.Errorf("failed to clear role hint: %w", err)
	}

	return nil
}
