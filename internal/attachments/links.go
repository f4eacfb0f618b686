package attachments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gastos/internal/core"
)

const linkAudience = "gastos-files"

// SignedLink is a URL granting temporary read access to one attachment.
type SignedLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Signer issues and verifies HS256 tokens that name an attachment key.
// Expiry is checked at access time only; nothing is swept.
type Signer struct {
	secret     []byte
	baseURL    string
	defaultTTL time.Duration
	now        func() time.Time
}

func NewSigner(secret []byte, baseURL string, defaultTTL time.Duration) *Signer {
	return &Signer{
		secret:     secret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// WithClock returns a copy of s that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	c := *s
	c.now = now
	return &c
}

func (s *Signer) Sign(key string, ttl time.Duration) (SignedLink, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	issued := s.now()
	// NumericDate keeps whole seconds; round up so a link never dies early.
	expires := issued.Add(ttl)
	if t := expires.Truncate(time.Second); !t.Equal(expires) {
		expires = t.Add(time.Second)
	}
	claims := jwt.RegisteredClaims{
		Subject:   key,
		Audience:  jwt.ClaimStrings{linkAudience},
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return SignedLink{}, fmt.Errorf("sign link for %q: %w", key, err)
	}
	return SignedLink{
		URL:       s.baseURL + "/files/" + token,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Verify returns the attachment key named by token. Every failure, whether
// expired, tampered or malformed, reports ErrExpiredOrUnknownLink.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(linkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("link expired: %w", core.ErrExpiredOrUnknownLink)
		}
		return "", fmt.Errorf("invalid link: %w", core.ErrExpiredOrUnknownLink)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("link without subject: %w", core.ErrExpiredOrUnknownLink)
	}
	return claims.Subject, nil
}
