package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
)

// UserService reads user profiles and renders their QR payloads.
type UserService struct {
	users repo.UserRepo
	now   func() time.Time
}

// NewUserService constructs a UserService backed by the provided UserRepo.
func NewUserService(users repo.UserRepo) *UserService {
	return &UserService{users: users, now: time.Now}
}

// Get returns a single user.
func (s *UserService) Get(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("service.UserService.Get: %w", err)
	}
	return u, nil
}

// QRPayload returns the payload another participant scans to start a trip
// with this user.
func (s *UserService) QRPayload(ctx context.Context, userID string) (domain.QRPayload, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return domain.QRPayload{}, err
	}
	return domain.NewQRPayload(u, s.now()), nil
}
