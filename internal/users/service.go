package users

import (
	"context"
	"errors"
	"strings"

	"github.com/repairdesk/repairdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	ListByRole(ctx context.Context, role Role) ([]User, error)
	InsertUser(ctx context.Context, u User) (User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, shared.Transient(err)
	}
	return users, nil
}

// ListByRole returns the active staff of one role.
func (s *Service) ListByRole(ctx context.Context, role Role) ([]User, error) {
	users, err := s.repo.ListByRole(ctx, role)
	if err != nil {
		return nil, shared.Transient(err)
	}
	return users, nil
}

// CreateInput is a new staff member.
type CreateInput struct {
	Email string
	Name  string
	Role  Role
}

// Create registers a staff member.
func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	fields := shared.FieldErrors{}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if email == "" {
		fields.Add("email", "is required")
	}
	if name == "" {
		fields.Add("name", "is required")
	}
	if in.Role == "" {
		fields.Add("role", "is required")
	}
	if err := fields.Err(); err != nil {
		return User{}, err
	}
	u, err := s.repo.InsertUser(ctx, User{Email: email, Name: name, Role: in.Role})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return User{}, err
		}
		return User{}, shared.Transient(err)
	}
	return u, nil
}
