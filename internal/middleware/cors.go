// Package middleware provides HTTP middleware for the companion agent's
// local API.
package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORSHandler lets the UI origins in origins call the API with a bearer
// token. The UI only reads and posts; X-Request-Id is exposed so a failed
// emergency can be quoted back when reporting it.
func NewCORSHandler(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         600,
	}).Handler
}
