// Package adminauth issues and validates the JWT session the admin
// dashboard uses once a Telegram Mini App init-data check has confirmed
// the caller's identity: Telegram InitData validation via
// pkg/telegraminit, then an admin allow-list check (pkg/config's
// IsAdmin/IsPrimaryAdmin) in place of a database user lookup, before a
// signed HS256 session token is handed back.
package adminauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dropbot/backend/pkg/errors"
)

// Claims is an admin session's JWT payload.
type Claims struct {
	TelegramID int64 `json:"telegram_id"`
	Primary    bool  `json:"primary"`
	jwt.RegisteredClaims
}

// Service issues and validates admin session tokens.
type Service struct {
	secret string
	expiry time.Duration
}

// New constructs a Service.
func New(secret string, expiry time.Duration) *Service {
	return &Service{secret: secret, expiry: expiry}
}

// IssueToken signs a new admin session token for telegramID.
func (s *Service) IssueToken(telegramID int64, isPrimary bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		TelegramID: telegramID,
		Primary:    isPrimary,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "dropbot-admin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrInvalidToken
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, errors.ErrInvalidToken.WithCause(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.ErrInvalidToken
	}
	return claims, nil
}
