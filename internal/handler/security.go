package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/vendimo/marketplace-core/internal/domain/auth"
)

// apiKeyHeader carries the seller dashboard API key.
const apiKeyHeader = "X-API-Key"

type apiKeyCtx struct{}

// KeyFromContext returns the authenticated API key identity, if any.
func KeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtx{}).(*auth.APIKeyInfo)
	return info, ok
}

// Security authenticates requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// RequireAPIKey authenticates the request by computing the HMAC-SHA256 of the
// presented key, looking it up, and comparing in constant time to avoid
// timing side-channels. The identity is stored in the request context.
func (s *Security) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		mac := hmac.New(sha256.New, s.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyCtx{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeStore checks that the authenticated key may act for storeID.
// Platform operator keys (no store binding) may act for any store.
func authorizeStore(r *http.Request, storeID string) bool {
	info, ok := KeyFromContext(r.Context())
	if !ok {
		return false
	}
	return info.StoreID == "" || info.StoreID == storeID
}
