// Package authx implements the introspection API's authentication: a
// single operator credential (there is no multi-user/role system in this
// engine's scope) verified with bcrypt, and short-lived JWTs issued on
// successful login and validated on every subsequent request. Grounded on
// _examples/RoseOO-TapeBackarr/internal/auth/service.go's Claims/Service
// shape, scoped down from its user table + role map + API-key machinery.
package authx

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("authx: invalid credentials")
	ErrInvalidToken       = errors.New("authx: invalid token")
	ErrTokenExpired       = errors.New("authx: token expired")
)

// Claims is the JWT payload issued for the admin credential.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Service authenticates the single configured operator credential and
// issues/validates JWTs for the introspection HTTP API.
type Service struct {
	username        string
	passwordHash    []byte
	jwtSecret       []byte
	tokenExpiration time.Duration
}

// NewService builds a Service from an already-hashed password (see Hash for
// how operators provision one at configuration time). jwtSecret, if empty,
// is replaced with a random 32-byte secret, matching the teacher's
// fallback (acceptable for a single process's lifetime; tokens stop
// validating across a restart, which is intentional for a credential this
// engine does not persist).
func NewService(username string, passwordHash []byte, jwtSecret []byte, tokenExpiration time.Duration) *Service {
	secret := jwtSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &Service{
		username:        username,
		passwordHash:    passwordHash,
		jwtSecret:       secret,
		tokenExpiration: tokenExpiration,
	}
}

// Hash produces a bcrypt hash suitable for NewService's passwordHash
// argument.
func Hash(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// Login verifies username/password and returns a signed JWT.
func (s *Service) Login(username, password string) (string, error) {
	if username != s.username {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.generateToken()
}

func (s *Service) generateToken() (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: s.username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "ltfsindexd",
			Subject:   s.username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
