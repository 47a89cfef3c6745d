package middleware

import (
	"net/http"
	"slices"

	"github.com/rs/cors"
)

// CORS allows the registry front ends to call the API. Credentials are only
// allowed when the origins are listed explicitly.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := slices.Contains(origins, "*")

	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader, "X-Session-ID"},
		// Gate rejections carry Retry-After.
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		MaxAge:           600,
		AllowCredentials: !wildcard,
	})

	return handler.Handler
}
