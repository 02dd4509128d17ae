package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/repo"
	"github.com/hitchsafe/companion/testutil"
)

// Requires TEST_MONGO_URI; skipped otherwise.
func newMongoStore(t *testing.T) repo.DocumentStore {
	t.Helper()
	return repo.NewMongoStore(testutil.NewMongoDatabase(t))
}

func TestMongoStore_UpdateFields_SetsOnlyNamedFields(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "trips", "t1", repo.Document{
		"status":           "active",
		"current_location": map[string]any{"latitude": 1.0, "longitude": 2.0},
	}))
	require.NoError(t, s.UpdateFields(ctx, "trips", "t1", repo.Document{"status": "emergency", "is_emergency": true}))

	got, err := s.Get(ctx, "trips", "t1")
	require.NoError(t, err)
	assert.Equal(t, "emergency", got["status"])
	assert.Equal(t, true, got["is_emergency"])
	loc := got["current_location"].(map[string]any)
	assert.Equal(t, 1.0, loc["latitude"])
}

func TestMongoStore_NotFound(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "trips", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.UpdateFields(ctx, "trips", "ghost", repo.Document{"status": "completed"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMongoStore_ContactsKeepInsertionOrder(t *testing.T) {
	contacts := repo.NewContactRepo(newMongoStore(t))
	ctx := context.Background()

	for _, name := range []string{"Mom", "Dad", "Sis"} {
		_, err := contacts.Add(ctx, "u1", domain.EmergencyContact{Name: name, PhoneNumber: "+1555", CreatedAt: time.Now().UTC()})
		require.NoError(t, err)
	}
	_, err := contacts.Add(ctx, "u2", domain.EmergencyContact{Name: "Other", PhoneNumber: "+1556"})
	require.NoError(t, err)

	got, err := contacts.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Mom", got[0].Name)
	assert.Equal(t, "Sis", got[2].Name)
	assert.NotEmpty(t, got[0].ID)
}
