package hub

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Authenticator resolves the user behind an Authorization header value.
type Authenticator interface {
	UserFromAuthHeader(h string) (string, error)
}

// Auth validates bearer JWTs. In test mode tokens are HMAC signed with
// TestSecret; otherwise RS256 tokens are checked against the JWKS.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

// NewAuth creates an Auth that checks RS256 tokens against jwks.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
}

// NewTestAuth accepts HS256 tokens signed with secret.
func NewTestAuth(secret string) *Auth {
	return &Auth{TestMode: true, TestSecret: []byte(secret)}
}

// SignTestToken issues an HS256 token for user that test-mode Auth accepts.
func SignTestToken(secret, user string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user,
		"username": user,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// UserFromAuthHeader returns the subject of a valid bearer token. The
// username is taken from the "username" claim when present.
func (a *Auth) UserFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("bad auth header")
	}
	tokenStr := parts[1]
	if strings.Count(tokenStr, ".") != 2 {
		return "", errors.New("bad auth header")
	}

	var claims jwt.MapClaims
	if a.TestMode {
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
		if err != nil {
			return "", err
		}
		c, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return "", errors.New("invalid claims")
		}
		claims = c
	} else {
		if a.JWKS == nil {
			return "", errors.New("no key set configured")
		}
		parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		token, err := parser.Parse(tokenStr, a.JWKS.Keyfunc)
		if err != nil {
			return "", err
		}
		c, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return "", errors.New("invalid claims")
		}
		now := time.Now().Add(time.Minute).Unix()
		if !c.VerifyExpiresAt(now, true) {
			return "", errors.New("token expired")
		}
		if !c.VerifyAudience(a.Audience, false) {
			return "", errors.New("invalid audience")
		}
		if !c.VerifyIssuer(a.Issuer, false) {
			return "", errors.New("invalid issuer")
		}
		claims = c
	}

	if name, ok := claims["username"].(string); ok && name != "" {
		return name, nil
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}
