package services

import (
	"errors"
	"slices"
	"time"

	"voicerooms/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService issues and checks operator tokens for the HTTP surface.
type AuthService interface {
	GenerateToken(operator string, guilds []domain.GuildID) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	CheckGuildAccess(claims *Claims, guildID domain.GuildID) error
}

// Claims carry the operator name as subject. An empty Guilds list grants
// every guild.
type Claims struct {
	Guilds []domain.GuildID `json:"guilds,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	issuer    string
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret, issuer string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(operator string, guilds []domain.GuildID) (string, error) {
	now := time.Now()
	claims := &Claims{
		Guilds: guilds,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) CheckGuildAccess(claims *Claims, guildID domain.GuildID) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if len(claims.Guilds) == 0 || slices.Contains(claims.Guilds, guildID) {
		return nil
	}
	return ErrUnauthorized
}
