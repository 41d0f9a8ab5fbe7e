package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tidechat/tide/internal/config"
)

// ErrRejected is returned when a credential does not verify. The caller
// must terminate the connection without creating a session.
var ErrRejected = errors.New("authentication rejected")

// Identity is the authenticated fact the core consumes. UserID is empty
// for guests.
type Identity struct {
	UserID   string
	Username string
	Guest    bool
}

// Claims represents the JWT payload for authenticated users.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"uname"`
	Guest    bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates an opaque connection credential.
type Verifier interface {
	Verify(credential string) (Identity, error)
}

// JWTVerifier checks HS256 tokens issued by NewToken.
type JWTVerifier struct {
	cfg config.JWTConfig
}

// NewVerifier constructs a JWTVerifier for the given config.
func NewVerifier(cfg config.JWTConfig) *JWTVerifier {
	return &JWTVerifier{cfg: cfg}
}

// Verify parses and validates the token, mapping any parse failure to
// ErrRejected.
func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrRejected
	}
	claims, err := ParseToken(v.cfg, credential)
	if err != nil {
		return Identity{}, ErrRejected
	}
	return Identity{UserID: claims.UserID, Username: claims.Username, Guest: claims.Guest}, nil
}

// NewToken generates a signed JWT for the provided identity.
func NewToken(cfg config.JWTConfig, id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Guest:    id.Guest,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   id.Username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// ParseToken validates the provided token string and extracts claims.
func ParseToken(cfg config.JWTConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
