package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS restricts browser access to the admin API to the configured origins.
// The API is read/write JSON over GET, POST and PUT; nothing else is exposed
// to browsers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler
}
