package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 12 * time.Hour

	tokenIssuer   = "dukan-auth"
	tokenAudience = "dukan-api"
)

var (
	ErrMissingSigningSecret   = errors.New("auth: signing secret required")
	ErrMissingProvisioningKey = errors.New("auth: provisioning key required")
	ErrMissingDeviceID        = errors.New("auth: device id required")
	ErrInvalidProvisioningKey = errors.New("auth: invalid provisioning key")
	ErrInvalidToken           = errors.New("auth: invalid token")
)

// DeviceTokenManagerConfig configures HS256 bearer tokens for sync devices.
type DeviceTokenManagerConfig struct {
	SigningSecret   []byte
	ProvisioningKey []byte
	TokenTTL        time.Duration
	Clock           func() time.Time
}

// DeviceTokenManager exchanges the shared provisioning key for per-device
// bearer tokens and validates them on every sync request.
type DeviceTokenManager struct {
	signingSecret   []byte
	provisioningKey []byte
	tokenTTL        time.Duration
	clock           func() time.Time
}

// NewDeviceTokenManager constructs a DeviceTokenManager with sane defaults.
func NewDeviceTokenManager(cfg DeviceTokenManagerConfig) (*DeviceTokenManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	if len(cfg.ProvisioningKey) == 0 {
		return nil, ErrMissingProvisioningKey
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DeviceTokenManager{
		signingSecret:   append([]byte(nil), cfg.SigningSecret...),
		provisioningKey: append([]byte(nil), cfg.ProvisioningKey...),
		tokenTTL:        ttl,
		clock:           clock,
	}, nil
}

// IssueDeviceToken checks the provisioning key and produces a signed JWT plus
// its lifetime in seconds for the named device.
func (m *DeviceTokenManager) IssueDeviceToken(_ context.Context, deviceID, provisioningKey string) (string, int64, error) {
	if strings.TrimSpace(deviceID) == "" {
		return "", 0, ErrMissingDeviceID
	}
	if subtle.ConstantTimeCompare([]byte(provisioningKey), m.provisioningKey) != 1 {
		return "", 0, ErrInvalidProvisioningKey
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.tokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   strings.TrimSpace(deviceID),
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the bearer token is well formed and returns the device id.
func (m *DeviceTokenManager) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, token.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingDeviceID
	}
	return claims.Subject, nil
}
