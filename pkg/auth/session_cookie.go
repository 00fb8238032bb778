package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// SessionCookieCodec signs session ids into tamper-evident cookie values.
// The session id travels as the JWT ID claim.
type SessionCookieCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionCookieCodec creates a codec signing with HS256.
func NewSessionCookieCodec(secret []byte, issuer string, ttl time.Duration) *SessionCookieCodec {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCookieCodec{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the cookie lifetime.
func (c *SessionCookieCodec) TTL() time.Duration {
	return c.ttl
}

// Encode returns the signed cookie value for sessionID.
func (c *SessionCookieCodec) Encode(sessionID string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode validates value and returns the session id it carries.
func (c *SessionCookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid || claims.ID == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.ID, nil
}
