package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kassza/internal/domain"
	"kassza/internal/store"
)

var ErrUserExists = errors.New("username already exists")

// The methods below back the HTTP auth manager's user store. Accounts are
// keyed by username in the users collection.

func (s *Service) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.Contains(username, "/") {
		return fmt.Errorf("%w: invalid username", store.ErrInvalidTransaction)
	}
	path := store.Path(store.Users, username)

	var existing domain.UserAccount
	err := s.port.Get(ctx, path, &existing)
	if err == nil {
		return ErrUserExists
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	user.Username = username
	if err := s.port.Write(ctx, path, user); err != nil {
		return s.storeFailure("write user", err)
	}
	s.logAudit(ctx, "user_create", "user", username, "role="+user.Role)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users, err := store.LoadAll[domain.UserAccount](ctx, s.port, store.Users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, username string) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.UserAccount{}, fmt.Errorf("%w: username required", store.ErrInvalidTransaction)
	}
	var user domain.UserAccount
	if err := s.port.Get(ctx, store.Path(store.Users, username), &user); err != nil {
		return domain.UserAccount{}, err
	}
	return user, nil
}

func (s *Service) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if err := s.port.Patch(ctx, store.Path(store.Users, username), map[string]any{"password_hash": passwordHash}); err != nil {
		return s.storeFailure("update password", err)
	}
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, username string, req domain.UserUpdateRequest) (domain.UserAccount, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		return domain.UserAccount{}, err
	}

	fields := make(map[string]any, 2)
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if role != domain.RoleAdmin && role != domain.RoleStaff {
			return domain.UserAccount{}, fmt.Errorf("%w: role must be admin or staff", store.ErrInvalidTransaction)
		}
		fields["role"] = role
		user.Role = role
	}
	if req.Active != nil {
		fields["active"] = *req.Active
		user.Active = *req.Active
	}
	if len(fields) == 0 {
		return user, nil
	}

	if err := s.port.Patch(ctx, store.Path(store.Users, user.Username), fields); err != nil {
		return domain.UserAccount{}, s.storeFailure("update user", err)
	}
	s.logAudit(ctx, "user_update", "user", user.Username, fmt.Sprintf("role=%s,active=%t", user.Role, user.Active))
	return user, nil
}
