package optin

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rivo/uniseg"
)

const (
	maxNameLength      = 256
	forbiddenNameChars = `/\()"{}<>`
)

var validate = validator.New()

// Email is an address that passed ParseEmail.
type Email string

// ParseEmail checks that s is shaped like an email address.
func ParseEmail(s string) (Email, error) {
	if err := validate.Var(s, "required,email"); err != nil {
		return "", Errorf(ErrInvalid, "%s is not a valid email address", s)
	}
	return Email(s), nil
}

func (e Email) String() string {
	return string(e)
}

// Name is a subscriber display name that passed ParseName.
type Name string

// ParseName rejects blank names, names longer than 256 user-perceived
// characters and names containing any of / \ ( ) " { } < >.
func ParseName(s string) (Name, error) {
	isBlank := strings.TrimSpace(s) == ""
	isTooLong := uniseg.GraphemeClusterCount(s) > maxNameLength
	hasForbidden := strings.ContainsAny(s, forbiddenNameChars)

	if isBlank || isTooLong || hasForbidden {
		return "", Errorf(ErrInvalid, "%s is not a valid subscriber name", s)
	}
	return Name(s), nil
}

func (n Name) String() string {
	return string(n)
}
