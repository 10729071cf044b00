package domain

import (
	"errors"
	"strings"
)

// ErrInvalidAddress is returned when a string is not a 20-byte hex address.
var ErrInvalidAddress = errors.New("invalid address")

// NormalizeAddress returns the canonical lower-case form of an address.
// Every store applies it before writes and lookups.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidAddress reports whether addr is 0x followed by 40 hex digits.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ParseAddress validates and normalizes addr.
func ParseAddress(addr string) (string, error) {
	if !ValidAddress(addr) {
		return "", ErrInvalidAddress
	}
	return NormalizeAddress(addr), nil
}
