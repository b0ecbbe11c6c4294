package httpapi

import (
	"context"
	"net/http"

	"dialix-pipeline/internal/config"
)

const (
	headerOwner   = "X-Owner-ID"
	headerCompany = "X-Company-Name"
)

type ctxKey int

const (
	ownerKey ctxKey = iota
	companyKey
)

func APIKeyAuth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, "api key required", http.StatusUnauthorized)
				return
			}
			ok := false
			for _, k := range cfg.APIKeys {
				if k.Key == key {
					ok = true
					break
				}
			}
			if !ok {
				http.Error(w, "invalid api key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner takes the authenticated owner and company from the headers
// set by the gateway.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(headerOwner)
		if owner == "" {
			http.Error(w, "owner required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner)
		ctx = context.WithValue(ctx, companyKey, r.Header.Get(headerCompany))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFrom(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey).(string)
	return v
}

func companyFrom(ctx context.Context) string {
	v, _ := ctx.Value(companyKey).(string)
	return v
}
