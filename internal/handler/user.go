package handler

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitchsafe/companion/internal/domain"
)

// ContactRequest is the body of POST /me/contacts.
type ContactRequest struct {
	Name         string               `json:"name"`
	PhoneNumber  string               `json:"phone_number"`
	Email        *openapi_types.Email `json:"email,omitempty"`
	Relationship string               `json:"relationship"`
}

// GetMe handles GET /me.
func (s *Server) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.Get(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetQRPayload handles GET /me/qr.
// The response body is the exact JSON text to render into the QR image.
func (s *Server) GetQRPayload(w http.ResponseWriter, r *http.Request) {
	p, err := s.users.QRPayload(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListContacts handles GET /me/contacts.
func (s *Server) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.List(r.Context(), currentUser(r))
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// AddContact handles POST /me/contacts.
func (s *Server) AddContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, requestBody("invalid request body: "+err.Error()))
		return
	}

	c := domain.EmergencyContact{
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		Relationship: req.Relationship,
	}
	if req.Email != nil {
		c.Email = string(*req.Email)
	}

	created, err := s.contacts.Add(r.Context(), currentUser(r), c)
	if err != nil {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
