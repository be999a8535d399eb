// Package auth signs and verifies the bearer tokens shared by the HTTP
// layer and the websocket handshake. Both paths must resolve a credential
// through the same Verifier so a token accepted on one is accepted on the
// other.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential covers malformed, badly signed, and expired tokens.
// Callers never learn which; they only need "reject".
var ErrInvalidCredential = errors.New("auth: invalid credential")

// Identity is the verified principal carried by a token.
type Identity struct {
	UserID      int
	DisplayName string
}

type claims struct {
	UserID      int    `json:"user_id"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Verifier issues and validates HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Sign issues a token for the given identity.
func (v *Verifier) Sign(id Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "connect",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(v.ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// Verify resolves a credential to an identity. It is a pure function of the
// token, the secret, and the clock; no state is touched.
func (v *Verifier) Verify(credential string) (Identity, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(credential, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidCredential
	}
	return Identity{UserID: c.UserID, DisplayName: c.DisplayName}, nil
}
