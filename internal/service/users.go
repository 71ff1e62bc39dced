package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/kindred/internal/domain"
	"github.com/timmy/kindred/internal/logger"
	"github.com/timmy/kindred/internal/repository"
)

// UserService seeds and lists users.
type UserService struct {
	users *repository.UserRepository
}

// NewUserService creates a new UserService.
func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// EnsureUsers creates any missing users among usernames and returns all of
// them in the given order.
func (s *UserService) EnsureUsers(ctx context.Context, usernames []string) ([]domain.User, error) {
	out := make([]domain.User, 0, len(usernames))
	created := 0
	for _, name := range usernames {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty username", domain.ErrValidation)
		}
		u, isNew, err := s.users.EnsureByUsername(ctx, name)
		if err != nil {
			return nil, err
		}
		if isNew {
			created++
		}
		out = append(out, *u)
	}
	if created > 0 {
		logger.CtxInfo(ctx, "Seeded users: created=%d, total=%d", created, len(out))
	}
	return out, nil
}

// ListUsers returns all users ordered by id.
func (s *UserService) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}
