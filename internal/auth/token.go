package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds how long an issued identity token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// Identity is the user id and username a verified token vouches for.
type Identity struct {
	UserID   string
	Username string
}

type tokenClaims struct {
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies signed, time-bounded identity tokens.
// Verification is pure: no shared mutable state, safe for concurrent use.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a verifier with the default 24h token lifetime.
func NewVerifier(secret []byte) *Verifier {
	return NewVerifierTTL(secret, DefaultTokenTTL)
}

// NewVerifierTTL creates a verifier with an explicit token lifetime.
func NewVerifierTTL(secret []byte, ttl time.Duration) *Verifier {
	return &Verifier{secret: secret, ttl: ttl}
}

// Issue signs a token for the given identity, valid from now until the ttl
// elapses.
func (v *Verifier) Issue(id Identity) (string, error) {
	if id.UserID == "" || id.Username == "" {
		return "", ErrEmptyIdentity
	}

	now := time.Now()
	claims := tokenClaims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates a token and returns the identity it carries.
// Fails closed: any parse error, signature mismatch, missing claim, or
// expiry yields ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.Username == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.Subject, Username: claims.Username}, nil
}
