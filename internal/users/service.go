package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, email, displayName, passwordHash string, roleID int64) (User, error)
	UpdateUser(ctx context.Context, id int64, displayName string, isActive bool) (User, error)
	DeleteUser(ctx context.Context, id int64) error
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser hashes the password and stores a new active account.
func (s *Service) CreateUser(ctx context.Context, email, displayName, password string, roleID int64) (User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, normalizeEmail(email), s.normalizeName(displayName), string(hashed), roleID)
}

// UpdateUser applies profile changes.
func (s *Service) UpdateUser(ctx context.Context, id int64, displayName string, isActive bool) (User, error) {
	return s.repo.UpdateUser(ctx, id, s.normalizeName(displayName), isActive)
}

// DeactivateUser disables an account.
func (s *Service) DeactivateUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

func (s *Service) normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == strings.ToLower(name) {
		// Help out users who typed their name fully lowercased; mixed
		// case is kept as-is to respect spellings like "McGregor".
		// Caser is stateful, so build one per call.
		return cases.Title(language.English).String(name)
	}
	return name
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
