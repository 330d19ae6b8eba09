package identity

import (
	"context"

	"google.golang.org/api/idtoken"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// TokenValidator checks an ID token's signature, expiry, issuer and audience.
// An empty audience skips the audience check.
type TokenValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// TokenValidatorFunc adapts a function to TokenValidator.
type TokenValidatorFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

func (f TokenValidatorFunc) Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error) {
	return f(ctx, idToken, audience)
}

// GoogleVerifier checks Google Sign-In ID tokens locally against Google's
// cached signing keys.
type GoogleVerifier struct {
	clientID  string
	validator TokenValidator
}

// NewGoogleVerifier builds a verifier. An empty clientID skips the audience
// check; a nil validator uses idtoken.Validate.
func NewGoogleVerifier(clientID string, validator TokenValidator) *GoogleVerifier {
	if validator == nil {
		validator = TokenValidatorFunc(idtoken.Validate)
	}
	return &GoogleVerifier{clientID: clientID, validator: validator}
}

func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (chat.Identity, error) {
	if credential == "" {
		return chat.Identity{}, failed("empty credential", nil)
	}

	payload, err := v.validator.Validate(ctx, credential, v.clientID)
	if err != nil {
		return chat.Identity{}, failed("google id token", err)
	}
	if err := ctx.Err(); err != nil {
		return chat.Identity{}, failed("google id token", err)
	}

	email := stringClaim(payload.Claims, "email")
	if !emailVerified(payload.Claims["email_verified"]) {
		return chat.Identity{}, failed("email not verified", nil)
	}

	name := stringClaim(payload.Claims, "name")
	if name == "" {
		name = email
	}
	return checkIdentity(chat.Identity{
		Name:    name,
		Picture: stringClaim(payload.Claims, "picture"),
		Email:   email,
	})
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}

// emailVerified accepts the boolean from the token and the string form some
// Google endpoints emit.
func emailVerified(claim interface{}) bool {
	switch v := claim.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
