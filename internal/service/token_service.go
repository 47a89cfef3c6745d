package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"asset-recyclebin/internal/model"
)

const TokenTypeAccess = "access"

// TokenService validates the HS256 bearer tokens issued by the registry's
// identity provider. Issue exists for operators and tests.
type TokenService struct {
	secret []byte
	clock  func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), clock: func() time.Time { return time.Now().UTC() }}
}

func (s *TokenService) ValidateToken(tokenString string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, fmt.Errorf("invalid token: %w", model.ErrUnauthorized)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %w", model.ErrUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims: %w", model.ErrUnauthorized)
	}

	typ, _ := claimsMap["typ"].(string)
	if typ != "" && typ != TokenTypeAccess {
		return nil, fmt.Errorf("invalid token type: %w", model.ErrUnauthorized)
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Username, _ = claimsMap["username"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, fmt.Errorf("invalid token subject: %w", model.ErrUnauthorized)
	}

	return claims, nil
}

// Issue signs an access token for principal.
func (s *TokenService) Issue(principal model.Principal, ttl time.Duration) (string, error) {
	if principal.IsZero() {
		return "", &model.ValidationError{Field: "sub", Message: "principal id is required"}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := s.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      principal.ID,
		"username": principal.Username,
		"role":     principal.Role,
		"typ":      TokenTypeAccess,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})
	return token.SignedString(s.secret)
}
