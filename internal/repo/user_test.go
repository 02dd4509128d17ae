package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
)

func TestUserRepo_SetCurrentTrip(t *testing.T) {
	users := repo.NewUserRepo(repo.NewMemoryStore())
	ctx := context.Background()

	_, err := users.Create(ctx, domain.User{ID: "u1", FirstName: "Ana", UserType: domain.UserTypeBoth, IsActive: true, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	tripID := "t1"
	require.NoError(t, users.SetCurrentTrip(ctx, "u1", &tripID))

	got, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.CurrentTripID)
	assert.Equal(t, "t1", *got.CurrentTripID)
	assert.Equal(t, "Ana", got.FirstName, "other fields untouched")

	require.NoError(t, users.SetCurrentTrip(ctx, "u1", nil))

	got, err = users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.CurrentTripID)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	users := repo.NewUserRepo(repo.NewMemoryStore())

	_, err := users.GetByID(context.Background(), "ghost")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountRepo_NormalizesEmail(t *testing.T) {
	accounts := repo.NewAccountRepo(repo.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, accounts.Create(ctx, repo.Account{Email: " Ana@Example.com ", UserID: "u1", PasswordHash: "h"}))

	got, err := accounts.GetByEmail(ctx, "ana@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "ana@example.com", got.Email)

	_, err = accounts.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
