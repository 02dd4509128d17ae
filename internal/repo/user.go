package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitchsafe/companion/internal/domain"
)

const fieldCurrentTripID = "current_trip_id"

// UserRepo defines the persistence operations for Users.
type UserRepo interface {
	// Create stores a new user under user.ID.
	Create(ctx context.Context, user domain.User) (domain.User, error)

	// GetByID returns domain.ErrNotFound if the user does not exist.
	GetByID(ctx context.Context, id string) (domain.User, error)

	// SetCurrentTrip points the user at tripID, or clears the pointer when nil.
	SetCurrentTrip(ctx context.Context, userID string, tripID *string) error
}

type docUserRepo struct {
	store DocumentStore
	now   func() time.Time
}

// NewUserRepo constructs a UserRepo backed by the provided DocumentStore.
func NewUserRepo(store DocumentStore) UserRepo {
	return &docUserRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *docUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	doc, err := toDocument(user)
	if err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.Create: %w", err)
	}
	if err := r.store.Set(ctx, CollectionUsers, user.ID, doc); err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.Create: %w", err)
	}
	return user, nil
}

func (r *docUserRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	doc, err := r.store.Get(ctx, CollectionUsers, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.GetByID: %w", err)
	}
	var u domain.User
	if err := fromDocument(doc, &u); err != nil {
		return domain.User{}, fmt.Errorf("repo.UserRepo.GetByID: %w: %w", domain.ErrPersistence, err)
	}
	u.ID = id
	return u, nil
}

func (r *docUserRepo) SetCurrentTrip(ctx context.Context, userID string, tripID *string) error {
	f, err := fields(
		fieldCurrentTripID, tripID,
		fieldUpdatedAt, r.now(),
	)
	if err != nil {
		return fmt.Errorf("repo.UserRepo.SetCurrentTrip: %w", err)
	}
	if err := r.store.UpdateFields(ctx, CollectionUsers, userID, f); err != nil {
		return fmt.Errorf("repo.UserRepo.SetCurrentTrip: %w", err)
	}
	return nil
}

// Account holds the sign-in credentials for one email address.
type Account struct {
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountRepo stores credentials keyed by normalized email, so sign-in is a
// single document lookup.
type AccountRepo interface {
	Create(ctx context.Context, acct Account) error
	// GetByEmail returns domain.ErrNotFound if no account uses that email.
	GetByEmail(ctx context.Context, email string) (Account, error)
}

type docAccountRepo struct {
	store DocumentStore
}

// NewAccountRepo constructs an AccountRepo backed by the provided DocumentStore.
func NewAccountRepo(store DocumentStore) AccountRepo {
	return &docAccountRepo{store: store}
}

// NormalizeEmail is the account key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *docAccountRepo) Create(ctx context.Context, acct Account) error {
	acct.Email = NormalizeEmail(acct.Email)
	doc, err := toDocument(acct)
	if err != nil {
		return fmt.Errorf("repo.AccountRepo.Create: %w", err)
	}
	if err := r.store.Set(ctx, CollectionAccounts, acct.Email, doc); err != nil {
		return fmt.Errorf("repo.AccountRepo.Create: %w", err)
	}
	return nil
}

func (r *docAccountRepo) GetByEmail(ctx context.Context, email string) (Account, error) {
	doc, err := r.store.Get(ctx, CollectionAccounts, NormalizeEmail(email))
	if err != nil {
		return Account{}, fmt.Errorf("repo.AccountRepo.GetByEmail: %w", err)
	}
	var a Account
	if err := fromDocument(doc, &a); err != nil {
		return Account{}, fmt.Errorf("repo.AccountRepo.GetByEmail: %w: %w", domain.ErrPersistence, err)
	}
	return a, nil
}
