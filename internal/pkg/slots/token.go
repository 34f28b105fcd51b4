package slots

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTransferTokenTTL bounds how long an ownership transfer offer stays
// redeemable.
const DefaultTransferTokenTTL = 15 * time.Minute

// TransferClaims is the payload of a signed ownership-transfer token. The
// expected old owner is embedded so redemption can detect a racing
// transfer that happened after the token was minted.
type TransferClaims struct {
	ExpectedOldUserID uint   `json:"expected_old_user_id"`
	NewUserID         uint   `json:"new_user_id"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"provider_account_id"`
	jwt.RegisteredClaims
}

func mintTransferToken(secret string, claims *TransferClaims, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("transfer token secret is not configured")
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    "cloudhop",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parseTransferToken verifies signature and expiry. Expired tokens and
// malformed/forged ones map to distinct error kinds because the client
// recovery differs: expiry restarts the OAuth flow, invalidity is rejected.
func parseTransferToken(secret, raw string) (*TransferClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &TransferClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*TransferClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
