package security

import "time"

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef0123"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef012"
)

// NewTestIssuer returns an Issuer using fixed test secrets, a 15m access TTL and a 30d refresh TTL.
// For unit tests only. Callers must not use in production.
func NewTestIssuer() (*Issuer, error) {
	return NewIssuer(IssuerConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		Issuer:        "test-issuer",
		Audience:      "test-audience:dev",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
	})
}

// NewTestFingerprinter returns a Fingerprinter keyed by the test refresh secret.
// For unit tests only.
func NewTestFingerprinter() (*Fingerprinter, error) {
	return NewFingerprinter([]byte(testRefreshSecret))
}
