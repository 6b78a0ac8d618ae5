package pathutil

import (
	"errors"
	"regexp"
)

// ErrInvalidTenantID is returned when a tenant id path segment is malformed.
var ErrInvalidTenantID = errors.New("invalid tenant id")

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// TenantID validates a tenant id taken from a URL path segment.
//
// Example:
//
//	id, err := TenantID(r.PathValue("tenantID"))
func TenantID(segment string) (string, error) {
	if !tenantIDPattern.MatchString(segment) {
		return "", ErrInvalidTenantID
	}
	return segment, nil
}
