package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vidtube/internal/domain"
)

// TokenKind distingue access tokens de refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenConfig se construye una vez al arrancar el proceso.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// JWTService emite y valida tokens JWT.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// TokenPair es lo que reciben login y refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Claims struct {
	UserID    string `json:"_id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"fullName,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Identity convierte los claims de un access token en la identidad
// autenticada que reciben las operaciones protegidas.
func (c Claims) Identity() Identity {
	return Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Email:    c.Email,
		FullName: c.FullName,
	}
}

func NewJWTService(cfg TokenConfig) *JWTService {
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = 10 * 24 * time.Hour
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "vidtube"
	}
	return &JWTService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        issuer,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *JWTService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *JWTService) IssueAccessToken(user domain.User) (string, error) {
	if len(s.accessSecret) == 0 || user.ID == "" {
		return "", ErrTokenInvalid
	}
	now := s.now()
	claims := Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		TokenType: string(AccessToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

// IssueRefreshToken solo incluye el id del usuario; el jti hace que dos
// tokens emitidos en el mismo segundo sean distintos.
func (s *JWTService) IssueRefreshToken(user domain.User) (string, error) {
	if len(s.refreshSecret) == 0 || user.ID == "" {
		return "", ErrTokenInvalid
	}
	now := s.now()
	claims := Claims{
		UserID:    user.ID,
		TokenType: string(RefreshToken),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
}

// IssuePair emite access y refresh para el usuario.
func (s *JWTService) IssuePair(user domain.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify valida firma, expiración, emisor y tipo. Devuelve ErrTokenExpired
// o ErrTokenInvalid.
func (s *JWTService) Verify(tokenString string, kind TokenKind) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrTokenInvalid
	}
	secret, err := s.secretFor(kind)
	if err != nil {
		return Claims{}, err
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	_, err = parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if claims.TokenType != string(kind) {
		return Claims{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

func (s *JWTService) secretFor(kind TokenKind) ([]byte, error) {
	var secret []byte
	switch kind {
	case AccessToken:
		secret = s.accessSecret
	case RefreshToken:
		secret = s.refreshSecret
	}
	if len(secret) == 0 {
		return nil, ErrTokenInvalid
	}
	return secret, nil
}
