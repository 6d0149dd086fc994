package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrTokenExpired = errors.New("token expired")
)

type Claims struct {
	UserID string `json:"sub"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func CreateToken(userID string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if userID == "" {
		return "", errors.New("missing userID")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.Expiry)),
			ID:        hex.EncodeToString(jtiBytes),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// InspectToken reads the claims of a bearer token without verifying its
// signature; the client never holds the signing secret. Opaque (non-JWT)
// tokens yield empty claims and no error, the server stays the authority.
func InspectToken(tokenString string, now time.Time) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return &Claims{}, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

type ProfileFetcher interface {
	Profile(ctx context.Context) (model.Profile, error)
}

// ResolveSession turns a stored credential into a Session by asking the
// server who it belongs to.
func ResolveSession(ctx context.Context, profiles ProfileFetcher, token string, now time.Time) (model.Session, error) {
	claims, err := InspectToken(token, now)
	if err != nil {
		return model.Session{}, err
	}
	profile, err := profiles.Profile(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("resolve session: %w", err)
	}

	session := model.Session{ID: profile.ID, Name: profile.Name, Role: profile.Role, Token: token}
	if session.ID == "" {
		session.ID = claims.UserID
	}
	if session.Role == "" {
		session.Role = claims.Role
	}
	if session.Name == "" {
		session.Name = claims.Name
	}
	if session.ID == "" {
		return model.Session{}, errors.New("resolve session: profile has no id")
	}
	return session, nil
}
