package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/calebmassey/infra-provisioner/internal/domain"
	"github.com/calebmassey/infra-provisioner/internal/storage"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// Auth creates authentication middleware.
func Auth(store storage.Storage, bootstrapKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"code":401,"message":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, `{"code":401,"message":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			if apiKey == "" {
				http.Error(w, `{"code":401,"message":"empty API key"}`, http.StatusUnauthorized)
				return
			}

			storedKey, err := lookupKey(r.Context(), store, bootstrapKey, apiKey)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidAPIKey) {
					http.Error(w, `{"code":401,"message":"invalid API key"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			// Update last used timestamp (fire and forget)
			if storedKey.ID != "bootstrap" {
				go func() {
					_ = store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
				}()
			}

			ctx := context.WithValue(r.Context(), APIKeyContextKey, storedKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookupKey resolves a presented API key. The bootstrap count and the hash
// lookup read one transactional snapshot, so a key created mid-request cannot
// land between the two checks and leave them disagreeing. The transaction
// ends before the request handler runs.
func lookupKey(ctx context.Context, store storage.Storage, bootstrapKey, apiKey string) (*domain.APIKey, error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	keyCount, err := tx.CountAPIKeys(ctx)
	if err != nil {
		return nil, err
	}

	// The bootstrap key is only honored while no real keys exist, so the
	// first provisioned key disables it.
	if keyCount == 0 && bootstrapKey != "" {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(bootstrapKey)) == 1 {
			return &domain.APIKey{ID: "bootstrap", Name: "Bootstrap Key"}, nil
		}
	}

	storedKey, err := tx.GetAPIKeyByHash(ctx, hashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, err
	}

	return storedKey, tx.Commit()
}

// hashAPIKey creates a SHA-256 hash of the API key.
// We use SHA-256 for fast lookups since API keys are already high-entropy random strings.
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GetAPIKeyFromContext retrieves the API key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
