// Package domain contains the core data types for the companion.
// This package has no dependencies on other internal packages and is
// imported by every one of them (repo, service, handler).
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripEmergency TripStatus = "emergency"
	TripCompleted TripStatus = "completed"
)

// CanTransitionTo reports whether moving from s to next is a forward move.
// Allowed: active → emergency, active → completed, emergency → completed.
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	switch s {
	case TripActive:
		return next == TripEmergency || next == TripCompleted
	case TripEmergency:
		return next == TripCompleted
	}
	return false
}

// Role is the side of the trip a participant is on.
type Role string

const (
	RoleDriver     Role = "driver"
	RoleHitchhiker Role = "hitchhiker"
	RoleUnknown    Role = "unknown"
)

// Valid reports whether r is an explicit trip side.
func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleHitchhiker
}

// Opposite returns the other side of the trip.
func (r Role) Opposite() Role {
	switch r {
	case RoleDriver:
		return RoleHitchhiker
	case RoleHitchhiker:
		return RoleDriver
	}
	return RoleUnknown
}

// RegisteredParty is a snapshot of an app user taken at trip start.
type RegisteredParty struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// GuestParty is someone without the app, recorded manually at trip start.
type GuestParty struct {
	Name         string `json:"name"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	LicensePhoto string `json:"license_photo,omitempty"`
}

// PartyKind tags which case of Party is populated.
type PartyKind string

const (
	PartyRegistered PartyKind = "registered"
	PartyGuest      PartyKind = "guest"
)

// Party is the counterpart on a trip: either a registered user or a guest.
// Build one with Registered or Guest; the zero value is invalid.
type Party struct {
	kind       PartyKind
	registered RegisteredParty
	guest      GuestParty
}

// Registered returns a Party for an app user.
func Registered(userID, name string) Party {
	return Party{kind: PartyRegistered, registered: RegisteredParty{UserID: userID, Name: name}}
}

// Guest returns a Party for a person without the app.
func Guest(g GuestParty) Party {
	return Party{kind: PartyGuest, guest: g}
}

func (p Party) Kind() PartyKind { return p.kind }

// IsZero reports whether p was never set.
func (p Party) IsZero() bool { return p.kind == "" }

// AsRegistered returns the registered case, ok=false for guests.
func (p Party) AsRegistered() (RegisteredParty, bool) {
	return p.registered, p.kind == PartyRegistered
}

// AsGuest returns the guest case, ok=false for registered users.
func (p Party) AsGuest() (GuestParty, bool) {
	return p.guest, p.kind == PartyGuest
}

// Name is the display name for either case.
func (p Party) Name() string {
	switch p.kind {
	case PartyRegistered:
		return p.registered.Name
	case PartyGuest:
		return p.guest.Name
	}
	return ""
}

// partyJSON is the stored shape of a Party.
type partyJSON struct {
	Kind         PartyKind `json:"kind"`
	UserID       string    `json:"user_id,omitempty"`
	Name         string    `json:"name"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	LicensePhoto string    `json:"license_photo,omitempty"`
}

func (p Party) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PartyRegistered:
		return json.Marshal(partyJSON{Kind: p.kind, UserID: p.registered.UserID, Name: p.registered.Name})
	case PartyGuest:
		return json.Marshal(partyJSON{Kind: p.kind, Name: p.guest.Name, PhoneNumber: p.guest.PhoneNumber, LicensePhoto: p.guest.LicensePhoto})
	}
	return []byte("null"), nil
}

func (p *Party) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = Party{}
		return nil
	}
	var raw partyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case PartyRegistered:
		*p = Registered(raw.UserID, raw.Name)
	case PartyGuest:
		*p = Guest(GuestParty{Name: raw.Name, PhoneNumber: raw.PhoneNumber, LicensePhoto: raw.LicensePhoto})
	default:
		return fmt.Errorf("unknown party kind %q", raw.Kind)
	}
	return nil
}

// Trip is a tracked journey between the initiator and one counterpart.
// The initiator is always a registered user whose side is InitiatorRole;
// the counterpart sits on the opposite side. Names are snapshots taken at
// trip start and do not follow later profile edits.
type Trip struct {
	ID              string          `json:"id"`
	Initiator       RegisteredParty `json:"initiator"`
	InitiatorRole   Role            `json:"initiator_role"`
	Counterpart     Party           `json:"counterpart"`
	StartLocation   LocationSample  `json:"start_location"`
	CurrentLocation LocationSample  `json:"current_location"`
	EndLocation     *LocationSample `json:"end_location,omitempty"`
	Status          TripStatus      `json:"status"`
	IsEmergency     bool            `json:"is_emergency"`
	Emergency       *EmergencyEvent `json:"emergency,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

// RoleOf returns the side userID is on, or RoleUnknown.
func (t Trip) RoleOf(userID string) Role {
	if userID == "" {
		return RoleUnknown
	}
	if t.Initiator.UserID == userID {
		return t.InitiatorRole
	}
	if r, ok := t.Counterpart.AsRegistered(); ok && r.UserID == userID {
		return t.InitiatorRole.Opposite()
	}
	return RoleUnknown
}

// Participants returns the user ids of the registered parties on the trip.
// A guest counterpart has no account and is not listed.
func (t Trip) Participants() []string {
	ids := []string{t.Initiator.UserID}
	if r, ok := t.Counterpart.AsRegistered(); ok && r.UserID != "" {
		ids = append(ids, r.UserID)
	}
	return ids
}

// OtherParty returns the participant opposite userID.
// ok is false when userID is not on the trip.
func (t Trip) OtherParty(userID string) (Party, bool) {
	if userID == "" {
		return Party{}, false
	}
	if t.Initiator.UserID == userID {
		return t.Counterpart, true
	}
	if r, ok := t.Counterpart.AsRegistered(); ok && r.UserID == userID {
		return Registered(t.Initiator.UserID, t.Initiator.Name), true
	}
	return Party{}, false
}

// Driver returns the driver-side slot. Guests fill no slot.
func (t Trip) Driver() (RegisteredParty, bool) { return t.slot(RoleDriver) }

// Hitchhiker returns the hitchhiker-side slot. Guests fill no slot.
func (t Trip) Hitchhiker() (RegisteredParty, bool) { return t.slot(RoleHitchhiker) }

func (t Trip) slot(side Role) (RegisteredParty, bool) {
	if t.InitiatorRole == side {
		return t.Initiator, true
	}
	if r, ok := t.Counterpart.AsRegistered(); ok && t.InitiatorRole.Opposite() == side {
		return r, true
	}
	return RegisteredParty{}, false
}
