package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad signature, or carries the wrong claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a well-formed token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// TokenKind distinguishes the two token classes. Each kind has its own secret and TTL.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the claim set carried by both token kinds. Generation is only meaningful for refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind       TokenKind `json:"typ"`
	SessionID  string    `json:"sid"`
	Generation int64     `json:"gen,omitempty"`
}

// PrincipalID returns the subject (Telegram user id).
func (c *Claims) PrincipalID() string { return c.Subject }

// Token is a signed token and its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuerConfig holds the per-environment inputs of an Issuer.
type IssuerConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type kindParams struct {
	secret []byte
	ttl    time.Duration
}

// Issuer mints and verifies HS256 access and refresh tokens. It holds no mutable state
// and is safe for concurrent use.
type Issuer struct {
	issuer   string
	audience string
	kinds    map[TokenKind]kindParams
}

// NewIssuer returns an Issuer. Secrets must be non-empty and distinct; TTLs positive.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("security: signing secrets must be set")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("security: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("security: token TTLs must be positive")
	}
	return &Issuer{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		kinds: map[TokenKind]kindParams{
			KindAccess:  {secret: cfg.AccessSecret, ttl: cfg.AccessTTL},
			KindRefresh: {secret: cfg.RefreshSecret, ttl: cfg.RefreshTTL},
		},
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.kinds[KindAccess].ttl }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.kinds[KindRefresh].ttl }

// IssueAccessToken signs {principalID, sessionID, now, now+accessTTL} with the access secret.
func (i *Issuer) IssueAccessToken(principalID, sessionID string, now time.Time) (Token, error) {
	return i.issue(KindAccess, principalID, sessionID, 0, now)
}

// IssueRefreshToken signs {principalID, sessionID, generation, now, now+refreshTTL} with the refresh secret.
func (i *Issuer) IssueRefreshToken(principalID, sessionID string, generation int64, now time.Time) (Token, error) {
	return i.issue(KindRefresh, principalID, sessionID, generation, now)
}

// VerifyAccessToken checks signature and expiry only.
func (i *Issuer) VerifyAccessToken(token string, now time.Time) (*Claims, error) {
	return i.verify(KindAccess, token, now)
}

// VerifyRefreshToken checks signature and expiry only; the session store is not consulted.
func (i *Issuer) VerifyRefreshToken(token string, now time.Time) (*Claims, error) {
	return i.verify(KindRefresh, token, now)
}

// VerifyRefreshTokenSignature checks the signature and claims of a refresh token but tolerates expiry.
// Logout uses it so an expired refresh token can still end its session.
func (i *Issuer) VerifyRefreshTokenSignature(token string) (*Claims, error) {
	return i.verify(KindRefresh, token, time.Time{})
}

func (i *Issuer) issue(kind TokenKind, principalID, sessionID string, generation int64, now time.Time) (Token, error) {
	if principalID == "" || sessionID == "" || generation < 0 {
		return Token{}, ErrInvalidToken
	}
	p := i.kinds[kind]
	jti, err := generateJTI()
	if err != nil {
		return Token{}, err
	}
	now = now.UTC().Truncate(time.Second)
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principalID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind:       kind,
		SessionID:  sessionID,
		Generation: generation,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// verify is shared by both kinds. A zero now skips the expiry check.
func (i *Issuer) verify(kind TokenKind, tokenString string, now time.Time) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	p := i.kinds[kind]
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
	}
	if now.IsZero() {
		opts = append(opts, jwt.WithoutClaimsValidation())
	} else {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time { return now }))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Kind != kind || claims.SessionID == "" || claims.Subject == "" || claims.Generation < 0 {
		return nil, ErrInvalidToken
	}
	if now.IsZero() && (claims.Issuer != i.issuer || !hasAudience(claims.Audience, i.audience)) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
