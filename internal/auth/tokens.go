package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TokenPair is returned on login, registration and refresh
type TokenPair struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// Identity is what a valid ID token says about its bearer
type Identity struct {
	UserID int64
	Role   string
}

// RefreshToken is a parsed and verified refresh token
type RefreshToken struct {
	ID     string
	UserID int64
}

type idTokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type refreshTokenClaims struct {
	jwt.RegisteredClaims
}

// TokenService issues and verifies ID and refresh tokens
type TokenService struct {
	store         TokenStore
	log           *logrus.Logger
	idSecret      []byte
	refreshSecret []byte
	idTTL         time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(store TokenStore, cfg *config.Config, log *logrus.Logger) *TokenService {
	return &TokenService{
		store:         store,
		log:           log,
		idSecret:      []byte(cfg.JWTSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		idTTL:         cfg.IDTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		now:           time.Now,
	}
}

// NewPair issues a fresh token pair for user.
// When prevTokenID is set that refresh token is revoked first and must exist.
func (s *TokenService) NewPair(ctx context.Context, user *models.User, prevTokenID string) (*TokenPair, error) {
	uid := strconv.FormatInt(user.ID, 10)

	if prevTokenID != "" {
		if err := s.store.DeleteRefreshToken(ctx, uid, prevTokenID); err != nil {
			s.log.Warnf("Failed to delete previous refresh token for user %s, token %s: %v", uid, prevTokenID, err)
			return nil, err
		}
	}

	issuedAt := s.now().UTC()

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, idTokenClaims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.idTTL)),
		},
	}).SignedString(s.idSecret)
	if err != nil {
		s.log.Errorf("Error generating ID token for user %s: %v", uid, err)
		return nil, apperrors.NewInternal()
	}

	tokenID := uuid.NewString()
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.refreshTTL)),
		},
	}).SignedString(s.refreshSecret)
	if err != nil {
		s.log.Errorf("Error generating refresh token for user %s: %v", uid, err)
		return nil, apperrors.NewInternal()
	}

	if err := s.store.SetRefreshToken(ctx, uid, tokenID, s.refreshTTL); err != nil {
		return nil, err
	}

	return &TokenPair{IDToken: idToken, RefreshToken: refreshToken}, nil
}

// ValidateIDToken verifies signature and expiry of an ID token
func (s *TokenService) ValidateIDToken(tokenString string) (*Identity, error) {
	claims := &idTokenClaims{}
	if err := s.parse(tokenString, claims, s.idSecret); err != nil {
		s.log.Debugf("Unable to validate ID token: %v", err)
		return nil, apperrors.NewAuthorization("Unable to verify user from ID token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, apperrors.NewAuthorization("Unable to verify user from ID token")
	}
	return &Identity{UserID: userID, Role: claims.Role}, nil
}

// ValidateRefreshToken verifies a refresh token and returns its id and owner
func (s *TokenService) ValidateRefreshToken(tokenString string) (*RefreshToken, error) {
	claims := &refreshTokenClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret); err != nil {
		s.log.Debugf("Unable to validate refresh token: %v", err)
		return nil, apperrors.NewAuthorization("Unable to verify user from refresh token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.ID == "" {
		return nil, apperrors.NewAuthorization("Unable to verify user from refresh token")
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return nil, apperrors.NewAuthorization("Unable to verify user from refresh token")
	}
	return &RefreshToken{ID: claims.ID, UserID: userID}, nil
}

// Signout revokes every refresh token of the user
func (s *TokenService) Signout(ctx context.Context, userID int64) error {
	return s.store.DeleteUserRefreshTokens(ctx, strconv.FormatInt(userID, 10))
}

func (s *TokenService) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is invalid")
	}
	return nil
}
