package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QRPayload is the JSON document encoded in a user's profile QR code.
// Field names are the wire format shared with the mobile UI.
type QRPayload struct {
	UserID    string   `json:"userId"`
	Name      string   `json:"name"`
	UserType  UserType `json:"userType"`
	Timestamp int64    `json:"timestamp"` // milliseconds since epoch
}

// NewQRPayload builds the payload shown on u's profile screen.
func NewQRPayload(u User, now time.Time) QRPayload {
	return QRPayload{
		UserID:    u.ID,
		Name:      u.DisplayName(),
		UserType:  u.UserType,
		Timestamp: now.UnixMilli(),
	}
}

// Encode returns the UTF-8 JSON text to render into the QR image.
func (p QRPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// ParseQRPayload decodes a scanned QR code.
// Anything that is not a JSON object with non-empty userId and name is
// rejected with ErrInvalidQRPayload.
func ParseQRPayload(data []byte) (QRPayload, error) {
	var p QRPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return QRPayload{}, fmt.Errorf("%w: %v", ErrInvalidQRPayload, err)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	p.Name = strings.TrimSpace(p.Name)
	if p.UserID == "" {
		return QRPayload{}, fmt.Errorf("%w: userId is required", ErrInvalidQRPayload)
	}
	if p.Name == "" {
		return QRPayload{}, fmt.Errorf("%w: name is required", ErrInvalidQRPayload)
	}
	return p, nil
}
