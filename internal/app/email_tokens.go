package app

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/harvain/satellite-service/internal/domain"
)

const emailTokenKeyInfo = "satellite-service email activation"

// EmailTokens issues and verifies signed email activation tokens.
type EmailTokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type emailClaims struct {
	SatelliteID int64  `json:"sid"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

// NewEmailTokens derives the signing key from secret so the raw application
// secret never signs tokens directly.
func NewEmailTokens(secret string, ttl time.Duration) (*EmailTokens, error) {
	if secret == "" {
		return nil, errors.New("email token secret is empty")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(emailTokenKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive email token key: %w", err)
	}
	return &EmailTokens{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token binding the satellite to its current email address.
func (t *EmailTokens) Issue(satelliteID int64, email string) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := emailClaims{
		SatelliteID: satelliteID,
		Email:       domain.NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(satelliteID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign email token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a token and returns the satellite id and email it was issued for.
func (t *EmailTokens) Parse(token string) (int64, string, error) {
	claims := &emailClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return 0, "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.SatelliteID <= 0 || claims.Email == "" {
		return 0, "", domain.ErrInvalidToken
	}
	return claims.SatelliteID, claims.Email, nil
}
