// Package attestation signs short-lived tokens stating that an identity was verified.
package attestation

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"go-identity-verifier/document"
)

const DefaultValidity = 5 * time.Minute

// IdentityClaims is the payload of an attestation token.
type IdentityClaims struct {
	jwt.RegisteredClaims
	FirstName     string  `json:"firstName"`
	LastName      string  `json:"lastName"`
	Age           string  `json:"age"`
	IDNumber      string  `json:"idNumber"`
	Email         string  `json:"email,omitempty"`
	MatchDistance float64 `json:"matchDistance"`
}

type JwtAttester struct {
	privateKey *rsa.PrivateKey
	issuer     string
	validity   time.Duration
	now        func() time.Time
}

func NewJwtAttester(privateKeyPath string, issuer string, validity time.Duration) (*JwtAttester, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation key: %w", err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse attestation key: %w", err)
	}

	return newJwtAttester(privateKey, issuer, validity), nil
}

func newJwtAttester(privateKey *rsa.PrivateKey, issuer string, validity time.Duration) *JwtAttester {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &JwtAttester{
		privateKey: privateKey,
		issuer:     issuer,
		validity:   validity,
		now:        time.Now,
	}
}

// Attest signs the verified claim together with the live-to-document match distance.
func (a *JwtAttester) Attest(ctx context.Context, claim document.Claim, distance float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := a.now()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   claim.IDNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.validity)),
		},
		FirstName:     claim.FirstName,
		LastName:      claim.LastName,
		Age:           claim.Age,
		IDNumber:      claim.IDNumber,
		Email:         claim.Email,
		MatchDistance: distance,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign attestation: %w", err)
	}
	return token, nil
}

// PublicKey returns the key relying parties verify attestations with.
func (a *JwtAttester) PublicKey() *rsa.PublicKey {
	return &a.privateKey.PublicKey
}
