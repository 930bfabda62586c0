package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for any credential that cannot be trusted.
var ErrUnauthenticated = errors.New("authentication error")

// Identity is attached to a connection for its whole lifetime.
type Identity struct {
	UserID   string
	HouseID  string
	Username string
	Role     string
}

// Claims mirrors the payload signed by the account service.
type Claims struct {
	UserID   string `json:"userID" validate:"required"`
	HouseID  string `json:"houseID" validate:"required"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens against a shared secret.
type JWTAuthenticator struct {
	secret   []byte
	parser   *jwt.Parser
	validate *validator.Validate
}

// NewJWTAuthenticator constructs a JWTAuthenticator.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:   []byte(secret),
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		validate: validator.New(),
	}
}

// Authenticate verifies the token and derives the connection identity.
// A leading "Bearer " prefix is accepted.
func (a *JWTAuthenticator) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	var claims Claims
	parsed, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if err := a.validate.Struct(claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	username := claims.Username
	if username == "" {
		username = claims.UserID
	}
	return Identity{
		UserID:   claims.UserID,
		HouseID:  claims.HouseID,
		Username: username,
		Role:     claims.Role,
	}, nil
}
