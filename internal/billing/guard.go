package billing

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultDiscountWords are the spellings that mark a manual line as a
// discount. Matching is a case-insensitive substring test.
var DefaultDiscountWords = []string{"discount", "discnt", "dscount", "dscnt", "disct", "disc.", "dsct", "dis."}

// PINVerifier checks a supervisor PIN.
type PINVerifier interface {
	Verify(pin string) bool
}

// StaticPIN compares against a plain shared secret.
type StaticPIN string

// Verify implements PINVerifier.
func (p StaticPIN) Verify(pin string) bool {
	if p == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(p), []byte(pin)) == 1
}

// HashedPIN compares against a bcrypt hash of the secret.
type HashedPIN []byte

// Verify implements PINVerifier.
func (p HashedPIN) Verify(pin string) bool {
	if len(p) == 0 || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(p, []byte(pin)) == nil
}

// NewPINVerifier prefers the bcrypt hash when one is configured.
func NewPINVerifier(pin, hash string) PINVerifier {
	if hash = strings.TrimSpace(hash); hash != "" {
		return HashedPIN(hash)
	}
	return StaticPIN(pin)
}

// DiscountGuard gates manual lines whose description reads like a discount.
type DiscountGuard struct {
	words []string
	pin   PINVerifier
}

// NewDiscountGuard builds a guard. An empty word list falls back to
// DefaultDiscountWords.
func NewDiscountGuard(words []string, pin PINVerifier) *DiscountGuard {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			normalized = append(normalized, w)
		}
	}
	if len(normalized) == 0 {
		normalized = DefaultDiscountWords
	}
	return &DiscountGuard{words: normalized, pin: pin}
}

// Restricted reports whether description contains a discount word.
func (g *DiscountGuard) Restricted(description string) bool {
	if g == nil {
		return false
	}
	lower := strings.ToLower(description)
	for _, w := range g.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// Check passes unrestricted descriptions, and restricted ones only with the
// correct PIN.
func (g *DiscountGuard) Check(description, pin string) error {
	if !g.Restricted(description) {
		return nil
	}
	if g.pin == nil || !g.pin.Verify(pin) {
		return ErrDiscountPIN
	}
	return nil
}
