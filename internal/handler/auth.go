package handler

import (
	"errors"
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/identity"
	"github.com/hitchsafe/companion/internal/middleware"
)

// SignUpRequest is the body of POST /auth/signup.
type SignUpRequest struct {
	Email       openapi_types.Email `json:"email"`
	Password    string              `json:"password"`
	FirstName   string              `json:"first_name"`
	LastName    string              `json:"last_name"`
	PhoneNumber string              `json:"phone_number"`
	UserType    domain.UserType     `json:"user_type"`
}

// SignInRequest is the body of POST /auth/signin.
type SignInRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

// SessionResponse is returned by sign-up and sign-in.
type SessionResponse struct {
	User    domain.User      `json:"user"`
	Session identity.Session `json:"session"`
}

// SignUp handles POST /auth/signup.
func (s *Server) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, sess, err := s.identity.SignUp(r.Context(), identity.SignUpInput{
		Email:       string(req.Email),
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
		UserType:    req.UserType,
	})
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{User: user, Session: sess})
}

// SignIn handles POST /auth/signin.
func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, sess, err := s.identity.SignIn(r.Context(), string(req.Email), req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{User: user, Session: sess})
}

// SignOut handles POST /auth/signout. It revokes the token the request was
// made with.
func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.Token(r.Context())
	if err := s.identity.SignOut(r.Context(), token); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeAuthError maps input problems to 400 and credential problems to 401.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		s.writeServiceError(w, r, err, "user not found")
		return
	}
	switch ae.Code {
	case domain.AuthInvalidEmail, domain.AuthWeakPassword, domain.AuthInvalidUserType:
		writeJSON(w, http.StatusBadRequest, authBody(ae))
	case domain.AuthEmailInUse:
		writeJSON(w, http.StatusConflict, authBody(ae))
	default:
		writeJSON(w, http.StatusUnauthorized, authBody(ae))
	}
}

// writeDecodeError reports a malformed body. An email that fails the
// address format check is reported with the identity provider's code.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, openapi_types.ErrValidationEmail) {
		writeJSON(w, http.StatusBadRequest, authBody(domain.NewAuthError(domain.AuthInvalidEmail, nil)))
		return
	}
	writeJSON(w, http.StatusBadRequest, requestBody("invalid request body: "+err.Error()))
}
