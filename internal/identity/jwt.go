package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Claims is the payload of a chatroom login token.
type Claims struct {
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier accepts HS256 tokens signed with a shared secret, for deployments
// that put their own login service in front of the chatroom.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTVerifier requires a non-empty secret. Issuer and audience are checked
// only when set.
func NewJWTVerifier(secret []byte, issuer, audience string) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt identity provider requires a secret")
	}
	return &JWTVerifier{secret: secret, issuer: issuer, audience: audience}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (chat.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(credential, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return chat.Identity{}, failed("parse token", err)
	}
	if !token.Valid {
		return chat.Identity{}, failed("invalid token", nil)
	}

	return checkIdentity(chat.Identity{
		Name:    claims.Name,
		Picture: claims.Picture,
		Email:   claims.Email,
	})
}

// IssueToken signs a login token for id, valid for ttl.
func (v *JWTVerifier) IssueToken(id chat.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:    id.Name,
		Picture: id.Picture,
		Email:   id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Email,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
