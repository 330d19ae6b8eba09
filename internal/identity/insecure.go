package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/Tyrowin/chatroom/internal/chat"
)

const maxGuestNameLength = 32

// InsecureVerifier trusts the credential as a display name. Development only.
type InsecureVerifier struct{}

func (InsecureVerifier) Verify(_ context.Context, credential string) (chat.Identity, error) {
	name := strings.TrimSpace(credential)
	if name == "" {
		return chat.Identity{}, failed("empty name", nil)
	}
	if len([]rune(name)) > maxGuestNameLength {
		return chat.Identity{}, failed("name too long", nil)
	}
	return checkIdentity(chat.Identity{
		Name:  name,
		Email: guestEmail(name),
	})
}

// guestEmail keeps the email a unique key: names that slug alike, or have no
// ASCII slug at all, still differ in the hash suffix.
func guestEmail(name string) string {
	sum := sha256.Sum256([]byte(name))
	return guestSlug(name) + "-" + hex.EncodeToString(sum[:])[:10] + "@guest.local"
}

func guestSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "guest"
	}
	return slug
}
