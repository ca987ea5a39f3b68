package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/currency/internal/config"
	"github.com/congo-pay/currency/internal/identity"
	"github.com/congo-pay/currency/internal/ledger"
)

var (
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked indicates the token version no longer matches the user.
	ErrTokenRevoked = errors.New("token version invalidated")
)

// Service issues and verifies HS256 access and refresh tokens.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

// NewService builds the token service. An empty JWT or refresh secret is
// replaced by a random per-process key, so such tokens do not survive a
// restart and can never be forged with an empty HMAC key.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = randomSecret()
	}
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("auth: generate secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Version int    `json:"ver"`
	Tier    string `json:"tier,omitempty"`
}

// Login issues a token pair for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, err := s.sign(user.ID, user.Tier, user.TokenVersion, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(user.ID, "", user.TokenVersion, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(sub, tier string, version int, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    s.cfg.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Version: version,
		Tier:    tier,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Service) parse(token, secret string) (tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.AppName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return tokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return tokenClaims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Verify checks an access token and returns its current user.
func (s *Service) Verify(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := s.parse(accessToken, s.cfg.JWTSecret)
	if err != nil {
		return identity.User{}, err
	}
	return s.currentUser(ctx, claims)
}

func (s *Service) currentUser(ctx context.Context, claims tokenClaims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return identity.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}

// Authenticate resolves a bearer origin into the token holder's ledger account.
func (s *Service) Authenticate(ctx context.Context, origin ledger.Origin) (ledger.AccountID, error) {
	bearer, ok := origin.(ledger.BearerOrigin)
	if !ok || bearer == "" {
		return "", fmt.Errorf("%w: bearer token required", ledger.ErrAuthenticationFailed)
	}
	user, err := s.Verify(ctx, string(bearer))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrAuthenticationFailed, err)
	}
	return ledger.AccountID(user.ID), nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.parse(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	user, err := s.currentUser(ctx, claims)
	if err != nil {
		return "", 0, err
	}

	signed, err := s.sign(user.ID, user.Tier, user.TokenVersion, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
