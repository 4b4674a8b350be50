// ABOUTME: Admin gate for link generation and notification actions
// ABOUTME: Pre-shared secret header or bearer credential resolved by an identity service

package pass

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// adminSecretHeader carries the pre-shared admin secret.
const adminSecretHeader = "x-admin-secret"

// IdentityResolver turns a bearer credential into the authenticated user's
// email address. Implementations talk to an external identity service; a
// resolution failure of any kind means the credential is not accepted.
type IdentityResolver interface {
	ResolveEmail(ctx context.Context, bearer string) (string, error)
}

// HTTPIdentityResolver resolves bearer tokens against an identity service's
// user endpoint (GET {url}/auth/v1/user with the bearer and API key).
type HTTPIdentityResolver struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewHTTPIdentityResolver creates a resolver for the given identity service.
func NewHTTPIdentityResolver(baseURL, anonKey string) *HTTPIdentityResolver {
	return &HTTPIdentityResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// ResolveEmail fetches the user behind a bearer credential.
// The service's own anon key is not a user credential and is rejected.
func (r *HTTPIdentityResolver) ResolveEmail(ctx context.Context, bearer string) (string, error) {
	if bearer == "" || bearer == r.anonKey {
		return "", ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("apikey", r.anonKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrUnauthorized
	}

	var user struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decoding identity response: %w", err)
	}
	if user.Email == "" {
		return "", ErrUnauthorized
	}
	return user.Email, nil
}

// requireAdmin authorizes an admin-only action. The caller must present either
// the pre-shared secret header or a bearer credential that resolves to an
// allow-listed email. An empty allow-list accepts any authenticated identity.
func (h *Handler) requireAdmin(r *http.Request) error {
	if h.adminSecret != "" {
		presented := r.Header.Get(adminSecretHeader)
		if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(h.adminSecret)) == 1 {
			return nil
		}
	}

	authHeader := r.Header.Get("Authorization")
	bearer := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if bearer == "" || bearer == authHeader {
		return ErrUnauthorized
	}
	if h.identity == nil {
		return fmt.Errorf("%w: identity service not configured", ErrConfig)
	}

	email, err := h.identity.ResolveEmail(r.Context(), bearer)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if len(h.adminEmails) == 0 {
		return nil
	}
	email = strings.ToLower(email)
	for _, allowed := range h.adminEmails {
		if strings.ToLower(allowed) == email {
			return nil
		}
	}
	return ErrForbidden
}
