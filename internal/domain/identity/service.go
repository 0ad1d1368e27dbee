package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/labdesk/labdesk/internal/platform/auth"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func validateUser(u *User) error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if !ValidRole(u.Role) {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	return nil
}

// CreateUser stores u with a bcrypt hash of password.
func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	if u.Role == "" {
		u.Role = auth.RoleReceptionist
	}
	if err := validateUser(u); err != nil {
		return err
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.Password = hash
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateUser overwrites the profile fields of an existing user. The password
// hash and remember token are kept.
func (s *Service) UpdateUser(ctx context.Context, u *User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	existing, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}
	u.Password = existing.Password
	u.RememberToken = existing.RememberToken
	if u.Metadata == nil {
		u.Metadata = existing.Metadata
	}
	return s.users.Update(ctx, u)
}

func (s *Service) ListUsers(ctx context.Context, params map[string]string, limit, offset int) ([]*User, int, error) {
	return s.users.Search(ctx, params, limit, offset)
}

// MergeMetadata applies each patch entry with MergeMetadata and persists the
// user only when something changed.
func (s *Service) MergeMetadata(ctx context.Context, id int64, patches map[string]map[string]any) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := u.Clone()
	for key, patch := range patches {
		u.Metadata = MergeMetadata(u.Metadata, key, patch)
	}
	if u.SameAs(before) {
		return u, nil
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	return u, nil
}

func (s *Service) Deactivate(ctx context.Context, id int64) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return u, nil
	}
	u.Active = false
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("deactivate user %d: %w", id, err)
	}
	return u, nil
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.users.Delete(ctx, id)
}
