package optin

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// TokenLength is the number of characters in a subscription token.
const TokenLength = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Bytes at or above this bound are discarded so that every alphabet
// character is equally likely.
const tokenByteBound = 256 - 256%len(tokenAlphabet)

var tokenPattern = regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9]{%d}$`, TokenLength))

// Token is a bearer credential that confirms or revokes one subscription.
type Token string

// ParseToken accepts exactly TokenLength ASCII letters and digits.
func ParseToken(s string) (Token, error) {
	if !tokenPattern.MatchString(s) {
		return "", Errorf(ErrInvalid, "%s is not a valid subscription token", s)
	}
	return Token(s), nil
}

// NewToken draws a fresh token from crypto/rand.
func NewToken() (Token, error) {
	token := make([]byte, 0, TokenLength)
	buf := make([]byte, TokenLength*2)
	for len(token) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= tokenByteBound {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == TokenLength {
				break
			}
		}
	}
	return Token(token), nil
}

func (t Token) String() string {
	return string(t)
}
