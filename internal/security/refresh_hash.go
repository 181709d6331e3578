package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const fingerprintInfo = "tma-auth refresh-token fingerprint v1"

// Fingerprinter derives the one-way value stored in place of a raw refresh token.
// The key is an HKDF sub-key of the refresh signing secret, so a leaked session table
// cannot be matched against tokens without the secret.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter derives the fingerprint key from refreshSecret.
func NewFingerprinter(refreshSecret []byte) (*Fingerprinter, error) {
	if len(refreshSecret) == 0 {
		return nil, errors.New("security: refresh secret must be set")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, refreshSecret, nil, []byte(fingerprintInfo)), key); err != nil {
		return nil, err
	}
	return &Fingerprinter{key: key}, nil
}

// Fingerprint returns hex(HMAC-SHA-256(key, token)).
func (f *Fingerprinter) Fingerprint(token string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports in constant time whether token's fingerprint matches stored.
func (f *Fingerprinter) Equal(token, stored string) bool {
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(token))
	return hmac.Equal(mac.Sum(nil), want)
}
