package domain

import "errors"

// ErrInvalidTenant is returned by stores and buses for ids that fail
// ValidTenantID.
var ErrInvalidTenant = errors.New("invalid tenant id")

// MaxTenantIDLength bounds tenant ids, which become cache keys and NATS subject tokens.
const MaxTenantIDLength = 64

// ValidTenantID reports whether id is 1..MaxTenantIDLength characters of
// ASCII letters, digits, '-' or '_'.
func ValidTenantID(id string) bool {
	if id == "" || len(id) > MaxTenantIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
