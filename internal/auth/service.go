package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid   = errors.New("token invalid")
	ErrMissingSubject = errors.New("token has no subject")
)

// Service verifies HS256 access tokens issued by the hosted auth product.
type Service struct {
	secret []byte
	parser *jwt.Parser
}

// Claims carries the user id in sub. Older tokens put it in user_id.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) User() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

func NewService(secret string) *Service {
	return &Service{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// ValidateAccessToken returns the user id the token was issued to.
func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	userID := claims.User()
	if userID == "" {
		return "", ErrMissingSubject
	}
	return userID, nil
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := s.parser.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
