//go:generate go run go.uber.org/mock/mockgen -source=verifier.go -destination=../mocks/mock_verifier.go -package=mocks

// Package identity turns an opaque login credential into a verified chat
// identity by delegating to an identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// ErrVerificationFailed covers every way a credential can be rejected:
// bad signature, expiry, audience mismatch or an unreachable provider.
var ErrVerificationFailed = errors.New("identity verification failed")

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown identity provider")

// Verifier validates a credential. Implementations may block on a remote
// provider and must honour ctx cancellation.
type Verifier interface {
	Verify(ctx context.Context, credential string) (chat.Identity, error)
}

// Provider names a verifier selectable from configuration.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderJWT      Provider = "jwt"
	ProviderInsecure Provider = "insecure"
)

// Options configures every provider; only the fields of the selected one are read.
type Options struct {
	Provider       Provider
	GoogleClientID string
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
}

// New resolves the configured provider.
func New(opts Options) (Verifier, error) {
	switch opts.Provider {
	case ProviderGoogle:
		return NewGoogleVerifier(opts.GoogleClientID, nil), nil
	case ProviderJWT:
		return NewJWTVerifier([]byte(opts.JWTSecret), opts.JWTIssuer, opts.JWTAudience)
	case ProviderInsecure:
		return InsecureVerifier{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkIdentity validates provider claims before they are trusted.
func checkIdentity(id chat.Identity) (chat.Identity, error) {
	if err := validate.Struct(id); err != nil {
		return chat.Identity{}, fmt.Errorf("%w: invalid claims: %v", ErrVerificationFailed, err)
	}
	return id, nil
}

func failed(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrVerificationFailed, reason)
	}
	return fmt.Errorf("%w: %s: %v", ErrVerificationFailed, reason, err)
}
