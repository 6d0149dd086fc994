package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/internal/model"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestInspectToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := InspectToken(tok, time.Now())
	if err != nil {
		t.Fatalf("InspectToken: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", claims.UserID)
	}

	if _, err := InspectToken(tok, time.Now().Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := InspectToken("", time.Now()); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	opaque, err := InspectToken("opaque-token", time.Now())
	if err != nil {
		t.Fatalf("opaque tokens should pass through, got %v", err)
	}
	if opaque.UserID != "" {
		t.Fatalf("expected empty claims for opaque token")
	}
}

type profileFunc func(ctx context.Context) (model.Profile, error)

func (f profileFunc) Profile(ctx context.Context) (model.Profile, error) { return f(ctx) }

func TestResolveSession(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("user-1", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	fetch := profileFunc(func(ctx context.Context) (model.Profile, error) {
		return model.Profile{ID: "user-1", Name: "Ana", Role: "admin"}, nil
	})
	sess, err := ResolveSession(context.Background(), fetch, tok, time.Now())
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if sess.ID != "user-1" || sess.Name != "Ana" || sess.Role != "admin" || sess.Token != tok {
		t.Fatalf("unexpected session %+v", sess)
	}

	failing := profileFunc(func(ctx context.Context) (model.Profile, error) {
		return model.Profile{}, errors.New("boom")
	})
	if _, err := ResolveSession(context.Background(), failing, tok, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}
