package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"valetops/internal/domain"
)

type ctxKey int

const scopeKey ctxKey = 0

// Session resolves the identity headers forwarded by the auth/session
// provider in front of this service into an explicit tenancy Scope. Requests
// without a tenant are rejected; a location header narrows the scope for
// restricted roles.
func Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get("X-Tenant-ID")
		if tenant == "" {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant identity")
			return
		}
		scope := domain.Scope{TenantID: tenant}
		if ls := r.Header.Get("X-Location-ID"); ls != "" {
			id, err := strconv.ParseInt(ls, 10, 64)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid location", "X-Location-ID must be a number")
				return
			}
			scope.LocationID = &id
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), scopeKey, scope)))
	})
}

func scopeFrom(r *http.Request) domain.Scope {
	if s, ok := r.Context().Value(scopeKey).(domain.Scope); ok {
		return s
	}
	return domain.Scope{}
}
