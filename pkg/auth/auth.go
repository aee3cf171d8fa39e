// Package auth verifies bearer JWTs issued by the external identity
// provider against its JWKS endpoint and maps verified claims into the
// caller identity the rest of the gateway uses.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/meshforge/listings/pkg/apierr"
	"github.com/meshforge/listings/pkg/types"
)

// Verifier validates bearer tokens against a cached JWKS.
type Verifier struct {
	issuerURL string
	clientID  string
	jwksURL   string
	client    *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	keyTTL    time.Duration
}

// NewVerifier builds a Verifier for the given realm. issuerURL is the
// base authorization server URL (AUTHORIZATION_URL); `/realms/{realm}`
// is appended to it, Keycloak style.
func NewVerifier(issuerURL, realm, clientID string) *Verifier {
	base := strings.TrimRight(issuerURL, "/") + "/realms/" + realm
	return &Verifier{
		issuerURL: base,
		clientID:  clientID,
		jwksURL:   base + "/protocol/openid-connect/certs",
		client:    &http.Client{Timeout: 5 * time.Second},
		keys:      map[string]*rsa.PublicKey{},
		keyTTL:    10 * time.Minute,
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type claims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	AuthorizedParty   string `json:"azp"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Verify parses and validates a raw bearer token, returning the mapped
// caller identity.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*types.AuthenticatedUser, error) {
	var c claims
	token, err := jwt.ParseWithClaims(rawToken, &c, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keyFor(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !token.Valid {
		return nil, apierr.Unauthorized("invalid or expired bearer token")
	}

	return &types.AuthenticatedUser{
		ID:              c.Subject,
		Username:        c.PreferredUsername,
		Email:           c.Email,
		AuthorizedParty: c.AuthorizedParty,
		Roles:           c.RealmAccess.Roles,
	}, nil
}

func (v *Verifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.fetchedAt) > v.keyTTL
	v.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		if ok {
			// Serve the stale key rather than fail a valid request on
			// a transient JWKS fetch error.
			return key, nil
		}
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("auth: unknown signing key %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("auth: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}
