package githubapp

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxAppJWTExpiry = 10 * time.Minute

// AppAuth mints the short-lived RS256 assertions a GitHub App exchanges for
// installation tokens.
type AppAuth struct {
	appID  string
	key    *rsa.PrivateKey
	expiry time.Duration
	now    func() time.Time
}

func NewAppAuth(appID string, privateKeyPEM []byte, expiry time.Duration) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse app private key: %w", err)
	}
	if expiry <= 0 || expiry > maxAppJWTExpiry {
		expiry = maxAppJWTExpiry
	}
	return &AppAuth{appID: appID, key: key, expiry: expiry, now: time.Now}, nil
}

// JWT returns a signed app assertion. Issued-at is backdated 60s to tolerate
// clock skew between us and GitHub.
func (a *AppAuth) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	return signed, nil
}
