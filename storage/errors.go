package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage operations.
var (
	// ErrInvalidAddress indicates an object address could not be decomposed
	// into a bucket and a key.
	ErrInvalidAddress = errors.New("storage: invalid address")

	// ErrConfiguration indicates that required configuration is missing for
	// the resolved addressing style.
	ErrConfiguration = errors.New("storage: invalid configuration")

	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")

	// ErrBucketNotFound indicates the requested bucket does not exist.
	ErrBucketNotFound = errors.New("storage: bucket not found")
)

// InvalidAddressError is returned when an address cannot be parsed. It
// matches ErrInvalidAddress with errors.Is.
type InvalidAddressError struct {
	Address string
	Reason  string
}

func (e InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid object address %q: %s", e.Address, e.Reason)
}

// Is reports whether target is ErrInvalidAddress.
func (InvalidAddressError) Is(target error) bool {
	return target == ErrInvalidAddress
}

// ConfigurationError is returned when the endpoint configuration cannot serve
// the requested addressing style. It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
