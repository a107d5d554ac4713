package research

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL bounds how long a queued task invocation stays
// valid.
const DefaultTokenTTL = 15 * time.Minute

// TaskClaims is the short-lived JWT a queue invocation carries.
// Exactly one of the research IDs is set.
type TaskClaims struct {
	UserID             uuid.UUID  `json:"user_id"`
	OneTimeResearchID  *uuid.UUID `json:"one_time_research_id,omitempty"`
	InfiniteResearchID *uuid.UUID `json:"infinite_research_id,omitempty"`
	jwt.RegisteredClaims
}

// MintTaskToken signs claims with the process secret. Zero ttl takes
// the default.
func MintTaskToken(secret []byte, claims TaskClaims, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("research: signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("research: failed to sign task token: %w", err)
	}
	return signed, nil
}

// VerifyTaskToken checks the signature and expiry and returns the
// claims.
func VerifyTaskToken(secret []byte, raw string) (*TaskClaims, error) {
	claims := &TaskClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("research: invalid task token: %w", err)
	}
	return claims, nil
}
