package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// AdminClaims are the JWT claims carried by admin bearer tokens.
type AdminClaims struct {
	Subject string `json:"sub_name"`
	Admin   bool   `json:"admin"`
	jwt.RegisteredClaims
}

// JWTService signs and validates admin bearer tokens.
type JWTService struct {
	secret          []byte
	expirationHours int
	now             func() time.Time
}

// NewJWTService builds a JWT service. A zero expiration defaults to 24h; a
// nil clock uses time.Now.
func NewJWTService(secret string, expirationHours int, now func() time.Time) *JWTService {
	if expirationHours <= 0 {
		expirationHours = 24
	}
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		secret:          []byte(secret),
		expirationHours: expirationHours,
		now:             now,
	}
}

// GenerateToken signs an admin token for the named subject.
func (s *JWTService) GenerateToken(subject string) (string, error) {
	now := s.now()
	claims := &AdminClaims{
		Subject: subject,
		Admin:   true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies an admin token.
func (s *JWTService) ValidateToken(tokenString string) (*AdminClaims, error) {
	if tokenString == "" {
		return nil, &types.ErrUnauthorized{Message: "missing bearer token"}
	}
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, &types.ErrUnauthorized{Message: "invalid bearer token", Cause: err}
	}
	if !token.Valid || !claims.Admin {
		return nil, &types.ErrUnauthorized{Message: "token lacks admin claim"}
	}
	return claims, nil
}

// requireAdmin guards a handler behind admin JWT authentication.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.errorResponse(w, &types.ErrUnauthorized{Message: "missing bearer token"})
			return
		}
		if _, err := s.jwt.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err != nil {
			s.errorResponse(w, err)
			return
		}
		next(w, r)
	}
}
