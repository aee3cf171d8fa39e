package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	set := jwkSet{Keys: []jwk{{
		Kid: kid,
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func verifierForTestServer(srv *httptest.Server) *Verifier {
	v := &Verifier{
		jwksURL: srv.URL,
		client:  srv.Client(),
		keys:    map[string]*rsa.PublicKey{},
		keyTTL:  10 * time.Minute,
	}
	return v
}

func TestVerifyValidToken(t *testing.T) {
	key := mustRSAKey(t)
	srv := jwksServer(t, "key-1", &key.PublicKey)
	defer srv.Close()
	v := verifierForTestServer(srv)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PreferredUsername: "ann",
		Email:             "ann@example.test",
		AuthorizedParty:   "web-app",
	}
	c.RealmAccess.Roles = []string{"seller"}
	raw := signToken(t, key, "key-1", c)

	user, err := v.Verify(t.Context(), raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", user.ID)
	assert.Equal(t, "ann", user.Username)
	assert.True(t, user.HasRole("seller"))
	assert.False(t, user.HasRole("admin"))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key := mustRSAKey(t)
	srv := jwksServer(t, "key-1", &key.PublicKey)
	defer srv.Close()
	v := verifierForTestServer(srv)

	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	raw := signToken(t, key, "key-1", c)

	_, err := v.Verify(t.Context(), raw)
	assert.Error(t, err)
}

func TestVerifyRejectsUnknownSigningKey(t *testing.T) {
	key := mustRSAKey(t)
	otherKey := mustRSAKey(t)
	srv := jwksServer(t, "key-1", &key.PublicKey)
	defer srv.Close()
	v := verifierForTestServer(srv)

	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw := signToken(t, otherKey, "key-2", c)

	_, err := v.Verify(t.Context(), raw)
	assert.Error(t, err)
}

func TestVerifyServesStaleKeyOnTransientJWKSFailure(t *testing.T) {
	key := mustRSAKey(t)
	srv := jwksServer(t, "key-1", &key.PublicKey)
	v := verifierForTestServer(srv)

	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw := signToken(t, key, "key-1", c)

	// Prime the cache, then take the JWKS endpoint down and force a refresh.
	_, err := v.Verify(t.Context(), raw)
	require.NoError(t, err)
	srv.Close()
	v.mu.Lock()
	v.fetchedAt = time.Time{}
	v.mu.Unlock()

	_, err = v.Verify(t.Context(), raw)
	assert.NoError(t, err, "a stale cached key must still validate a token signed with it")
}
