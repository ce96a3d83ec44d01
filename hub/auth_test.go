package hub

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

func TestAuthTestMode(t *testing.T) {
	a := NewTestAuth("secret")

	user, err := a.UserFromAuthHeader("Bearer " + token(t, "alice"))
	if err != nil || user != "alice" {
		t.Fatalf("unexpected result %q %v", user, err)
	}

	named, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "auth0|1", "username": "bob"}).SignedString([]byte("secret"))
	if user, err := a.UserFromAuthHeader("Bearer " + named); err != nil || user != "bob" {
		t.Fatalf("expected username claim to win, got %q %v", user, err)
	}

	forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "mallory"}).SignedString([]byte("other"))
	if _, err := a.UserFromAuthHeader("Bearer " + forged); err == nil {
		t.Fatal("expected signature error")
	}

	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer not-a-jwt"} {
		if _, err := a.UserFromAuthHeader(h); err == nil {
			t.Fatalf("expected error for header %q", h)
		}
	}
}

func TestAuthJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := keyfunc.NewGiven(map[string]keyfunc.GivenKey{"k1": keyfunc.NewGivenRSA(&key.PublicKey)})
	a := NewAuth(jwks, "taskboard", "https://issuer.example/")

	sign := func(claims jwt.MapClaims) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	valid := sign(jwt.MapClaims{
		"sub": "alice",
		"aud": "taskboard",
		"iss": "https://issuer.example/",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if user, err := a.UserFromAuthHeader("Bearer " + valid); err != nil || user != "alice" {
		t.Fatalf("unexpected result %q %v", user, err)
	}

	wrongAudience := sign(jwt.MapClaims{
		"sub": "alice",
		"aud": "other",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := a.UserFromAuthHeader("Bearer " + wrongAudience); err == nil {
		t.Fatal("expected audience error")
	}

	noExpiry := sign(jwt.MapClaims{"sub": "alice", "aud": "taskboard"})
	if _, err := a.UserFromAuthHeader("Bearer " + noExpiry); err == nil {
		t.Fatal("expected missing expiry to be rejected")
	}

	hmac, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("secret"))
	if _, err := a.UserFromAuthHeader("Bearer " + hmac); err == nil {
		t.Fatal("HMAC tokens must be rejected outside test mode")
	}
}
