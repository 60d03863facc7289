// Package security implements the two inbound trust boundaries: HMAC
// verification of provider webhook bodies and RS256/JWKS verification of
// runner callback bearer tokens.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyHMAC checks header, a "<alg>=<hex>" signature such as
// "sha256=abcdef...", against an HMAC-SHA256 of body under secret. The raw
// body bytes must be the exact bytes later handed to JSON parsing; this
// function never re-serializes anything (spec.md §9).
func VerifyHMAC(body []byte, header string, secret []byte) error {
	alg, hexDigest, ok := strings.Cut(header, "=")
	if !ok {
		return newErr(KindInvalidSignature, "missing '=' separator in signature header")
	}
	if alg != "sha256" {
		return newErr(KindInvalidSignature, "unsupported signature algorithm %q", alg)
	}

	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return newErr(KindInvalidSignature, "malformed hex digest: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)

	if subtle.ConstantTimeCompare(want, got) != 1 {
		return newErr(KindInvalidSignature, "signature mismatch")
	}
	return nil
}
