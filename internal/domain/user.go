package domain

import (
	"strings"
	"time"
)

// UserType is the role a user registered with.
type UserType string

const (
	UserTypeHitchhiker UserType = "hitchhiker"
	UserTypeDriver     UserType = "driver"
	UserTypeBoth       UserType = "both"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeHitchhiker, UserTypeDriver, UserTypeBoth:
		return true
	}
	return false
}

// User is a registered app user.
// Users are never hard-deleted; CurrentTripID is nil when the user is not on a trip.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PhoneNumber   string    `json:"phone_number"`
	UserType      UserType  `json:"user_type"`
	CurrentTripID *string   `json:"current_trip_id"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DisplayName is the name captured into trip snapshots and QR payloads.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// EmergencyContact is a person alerted when the owning user triggers an emergency.
// Contacts are owned by exactly one user and are never merged or deduplicated.
type EmergencyContact struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number"`
	Email        string    `json:"email,omitempty"`
	Relationship string    `json:"relationship"`
	CreatedAt    time.Time `json:"created_at"`
}
