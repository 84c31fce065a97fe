/**
 * @description
 * Input validators for the USSD flows: phone numbers, PINs, national identity numbers,
 * names and dates of birth. Phone numbers are parsed and normalised to E.164 with the
 * libphonenumber port so that "08031234567", "2348031234567" and "+2348031234567"
 * resolve to the same account.
 *
 * @dependencies
 * - github.com/nyaruka/phonenumbers: Go port of Google's libphonenumber.
 */

package validate

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrInvalidPINFormat   = errors.New("pin must be exactly 4 digits")
	ErrWeakPIN            = errors.New("pin is too easy to guess")
	ErrInvalidIDNumber    = errors.New("id number must be exactly 11 digits")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidDateOfBirth = errors.New("invalid date of birth")
)

const (
	PINLength      = 4
	IDNumberLength = 11
	AccountLength  = 10
	dobLayout      = "02/01/2006"
	maxNameLength  = 50
)

var weakPINs = map[string]struct{}{
	"1234": {}, "4321": {}, "0000": {}, "1111": {}, "2222": {}, "3333": {},
	"4444": {}, "5555": {}, "6666": {}, "7777": {}, "8888": {}, "9999": {},
}

// NormalizePhone parses raw in the given default region and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidPhone
	}
	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// DisplayPhone renders an E.164 number in national format for menus, or returns it as-is.
func DisplayPhone(e164 string) string {
	num, err := phonenumbers.Parse(e164, "")
	if err != nil {
		return e164
	}
	return strings.ReplaceAll(phonenumbers.Format(num, phonenumbers.NATIONAL), " ", "")
}

// IsDigits reports whether s is exactly n ASCII digits.
func IsDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// PINFormat checks only the shape of a PIN, for verification prompts.
func PINFormat(pin string) error {
	if !IsDigits(pin, PINLength) {
		return ErrInvalidPINFormat
	}
	return nil
}

// NewPIN checks a PIN being chosen: correct shape and not in the weak list.
func NewPIN(pin string) error {
	if err := PINFormat(pin); err != nil {
		return err
	}
	if _, weak := weakPINs[pin]; weak {
		return ErrWeakPIN
	}
	return nil
}

// IDNumber checks a BVN or NIN.
func IDNumber(value string) error {
	if !IsDigits(value, IDNumberLength) {
		return ErrInvalidIDNumber
	}
	return nil
}

// AccountNumber reports whether value has the shape of a wallet account number.
func AccountNumber(value string) bool {
	return IsDigits(value, AccountLength)
}

// Name trims and checks a personal name: letters with optional spaces, hyphens or apostrophes.
func Name(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if len(name) < 2 || len(name) > maxNameLength {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if unicode.IsLetter(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return "", ErrInvalidName
	}
	return name, nil
}

// DateOfBirth parses DD/MM/YYYY and rejects future dates and implausible ages.
func DateOfBirth(raw string, now time.Time) (time.Time, error) {
	dob, err := time.Parse(dobLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDateOfBirth
	}
	if !dob.Before(now) || dob.Before(now.AddDate(-120, 0, 0)) {
		return time.Time{}, ErrInvalidDateOfBirth
	}
	return dob, nil
}
