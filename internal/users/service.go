package users

import (
	"context"
)

// RepositoryPort defines data access methods for account members.
type RepositoryPort interface {
	ListMembers(ctx context.Context, accountID int64) ([]Member, error)
}

// Service handles member listing.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListMembers returns the members of accountID.
func (s *Service) ListMembers(ctx context.Context, accountID int64) ([]Member, error) {
	members, err := s.repo.ListMembers(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []Member{}
	}
	return members, nil
}
