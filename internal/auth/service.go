package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/klinika/clinic-admin/internal/rbac"
	"github.com/klinika/clinic-admin/internal/shared"
)

// Service resolves session users into identities.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CurrentUser loads the active user behind a session user ID. Unknown,
// malformed and inactive users yield nil without error.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*User, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return nil, nil
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: find identity %d: %w", id, err)
	}
	if !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// CurrentIdentity is CurrentUser projected to an authorization identity.
func (s *Service) CurrentIdentity(ctx context.Context, userID string) (*rbac.Identity, error) {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Identity(), nil
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
