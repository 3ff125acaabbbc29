package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/mparany/garageops/internal/auth"
)

type ctxKey int

const accountIDKey ctxKey = iota

// Auth validates the bearer token and stores the account id in the request
// context.
func Auth(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				respondWithError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
				return
			}
			claims, err := auth.ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), accountIDKey, claims.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccountID returns the authenticated account id from the request context.
func AccountID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value(accountIDKey).(int64)
	return id, ok
}
