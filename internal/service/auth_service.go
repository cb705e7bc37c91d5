package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evaltra/evaltra-backend/internal/config"
)

// ErrTokenInvalid is returned for malformed, expired, or mis-signed tokens.
var ErrTokenInvalid = errors.New("invalid token")

// Role distinguishes token audiences. Students never carry a JWT; their
// credential is the attempt's access code plus session token.
type Role string

const RoleTeacher Role = "teacher"

// Claims extends JWT standard claims with app-specific fields. Tokens are
// issued by the platform's identity service with the shared secret; this
// service only validates them.
type Claims struct {
	jwt.RegisteredClaims
	Role   Role `json:"role"`
	UserID int  `json:"user_id"`
}

// AuthService validates teacher-dashboard JWTs.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// GenerateTeacherToken mints a teacher JWT. Used by ops tooling and the e2e
// suite; production tokens come from the identity service.
func (s *AuthService) GenerateTeacherToken(userID int) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		Role:   RoleTeacher,
		UserID: userID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
}
