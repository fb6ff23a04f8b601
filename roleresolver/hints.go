package roleresolver

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/upb/realty-dashboard/models"
	"github.com/upb/realty-dashboard/repositories"
)

// HintStore persists the last resolved role per principal. Hints are
// advisory: the resolver works the same when the store is empty, failing
// or absent. repositories/postgres.RoleHintRepository satisfies it.
type HintStore interface {
	Load(ctx context.Context, principalID string) (*models.RoleHint, error)
	Save(ctx context.Context, hint *models.RoleHint) error
	Clear(ctx context.Context, principalID string) error
}

// MemoryHintStore is a bounded in-process HintStore.
type MemoryHintStore struct {
	hints *lru.Cache[string, models.RoleHint]
}

// NewMemoryHintStore creates a store holding at most size hints.
func NewMemoryHintStore(size int) (*MemoryHintStore, error) {
	cache, err := lru.New[string, models.RoleHint](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create hint cache: %w", err)
	}
	return &MemoryHintStore{hints: cache}, nil
}

// Load returns a copy of the stored hint or repositories.ErrNotFound.
func (s *MemoryHintStore) Load(_ context.Context, principalID string) (*models.RoleHint, error) {
	hint, ok := s.hints.Get(principalID)
	if !ok {
		return nil, fmt.Errorf("role hint for %s: %w", principalID, repositories.ErrNotFound)
	}
	hint.Groups = append([]string(nil), hint.Groups...)
	return &hint, nil
}

func (s *MemoryHintStore) Save(_ context.Context, hint *models.RoleHint) error {
	stored := *hint
	stored.Groups = append([]string(nil), hint.Groups...)
	s.hints.Add(hint.PrincipalID, stored)
	return nil
}

func (s *MemoryHintStore) Clear(_ context.Context, principalID string) error {
	s.hints.Remove(principalID)
	return nil
}
