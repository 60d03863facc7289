package security

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is one entry of a JWKS document. Only the RSA fields runner tokens use
// are modeled; no JWKS client library appears anywhere in the reference
// corpus, so decoding is hand-rolled on top of crypto/rsa and math/big.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// RunnerVerifier validates the bearer token the external runner presents on
// its callback, against a JWKS fetched once at process startup.
type RunnerVerifier struct {
	keys       map[string]*rsa.PublicKey
	audience   string
	repository string
}

// FetchRunnerVerifier downloads and decodes the JWKS at jwksURL and builds a
// verifier scoped to the configured <org>/<repo>. Errors here are fatal at
// startup per spec.md §7.
func FetchRunnerVerifier(ctx context.Context, jwksURL, org, repo string) (*RunnerVerifier, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := decodeRSAPublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("decode jwk %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks at %s contained no usable RSA keys", jwksURL)
	}

	return &RunnerVerifier{
		keys:       keys,
		audience:   fmt.Sprintf("https://%s/%s", org, repo),
		repository: fmt.Sprintf("%s/%s", org, repo),
	}, nil
}

func decodeRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// VerifyRunnerJWT validates signature, audience, and the custom repository
// claim, returning the decoded claims on success.
func (v *RunnerVerifier) VerifyRunnerJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	}, jwt.WithAudience(v.audience), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, newErr(KindUnauthorized, "verify runner jwt: %w", err)
	}
	if !token.Valid {
		return nil, newErr(KindUnauthorized, "runner jwt is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, newErr(KindUnauthorized, "unexpected claims type")
	}
	repository, _ := claims["repository"].(string)
	if repository != v.repository {
		return nil, newErr(KindUnauthorized, "repository claim %q does not match %q", repository, v.repository)
	}
	return claims, nil
}
