package repo

import (
	"context"
	"fmt"

	"github.com/hitchsafe/companion/internal/domain"
)

// ContactRepo defines the persistence operations for emergency contacts.
// Contacts live in the owning user's emergency_contacts subcollection.
type ContactRepo interface {
	// Add appends a contact for userID and returns it with its generated ID.
	Add(ctx context.Context, userID string, contact domain.EmergencyContact) (domain.EmergencyContact, error)

	// ListByUser returns the user's contacts in the order they were added.
	ListByUser(ctx context.Context, userID string) ([]domain.EmergencyContact, error)
}

type docContactRepo struct {
	store DocumentStore
}

// NewContactRepo constructs a ContactRepo backed by the provided DocumentStore.
func NewContactRepo(store DocumentStore) ContactRepo {
	return &docContactRepo{store: store}
}

func (r *docContactRepo) Add(ctx context.Context, userID string, contact domain.EmergencyContact) (domain.EmergencyContact, error) {
	contact.ID = ""
	doc, err := toDocument(contact)
	if err != nil {
		return domain.EmergencyContact{}, fmt.Errorf("repo.ContactRepo.Add: %w", err)
	}
	delete(doc, "id")

	id, err := r.store.AddToSubcollection(ctx, CollectionUsers, userID, SubcollectionEmergencyContacts, doc)
	if err != nil {
		return domain.EmergencyContact{}, fmt.Errorf("repo.ContactRepo.Add: %w", err)
	}
	contact.ID = id
	return contact, nil
}

func (r *docContactRepo) ListByUser(ctx context.Context, userID string) ([]domain.EmergencyContact, error) {
	docs, err := r.store.ListSubcollection(ctx, CollectionUsers, userID, SubcollectionEmergencyContacts)
	if err != nil {
		return nil, fmt.Errorf("repo.ContactRepo.ListByUser: %w", err)
	}

	contacts := make([]domain.EmergencyContact, 0, len(docs))
	for _, doc := range docs {
		var c domain.EmergencyContact
		if err := fromDocument(doc, &c); err != nil {
			return nil, fmt.Errorf("repo.ContactRepo.ListByUser: %w: %w", domain.ErrPersistence, err)
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}
