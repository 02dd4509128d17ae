package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
)

// ContactService manages a user's emergency contacts.
type ContactService struct {
	contacts repo.ContactRepo
	now      func() time.Time
}

// NewContactService constructs a ContactService backed by the provided ContactRepo.
func NewContactService(contacts repo.ContactRepo) *ContactService {
	return &ContactService{contacts: contacts, now: func() time.Time { return time.Now().UTC() }}
}

// Add validates and stores a contact for userID. Contacts are never merged:
// adding the same person twice stores two contacts.
// Returns domain.ErrValidation if name or phone number is missing.
func (s *ContactService) Add(ctx context.Context, userID string, c domain.EmergencyContact) (domain.EmergencyContact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	c.Email = strings.TrimSpace(c.Email)
	c.Relationship = strings.TrimSpace(c.Relationship)

	if err := validateContact(c); err != nil {
		return domain.EmergencyContact{}, err
	}
	c.CreatedAt = s.now()

	result, err := s.contacts.Add(ctx, userID, c)
	if err != nil {
		return domain.EmergencyContact{}, fmt.Errorf("service.ContactService.Add: %w", err)
	}
	return result, nil
}

// List returns the user's contacts in the order they were added.
// Always returns a non-nil slice so callers can safely range over it.
func (s *ContactService) List(ctx context.Context, userID string) ([]domain.EmergencyContact, error) {
	contacts, err := s.contacts.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.ContactService.List: %w", err)
	}
	if contacts == nil {
		contacts = []domain.EmergencyContact{}
	}
	return contacts, nil
}

func validateContact(c domain.EmergencyContact) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("%w: phone number is required", domain.ErrValidation)
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return fmt.Errorf("%w: email is invalid", domain.ErrValidation)
		}
	}
	return nil
}
