package storage

import "strings"

// VersionID identifies a specific version of an object. The zero value is
// EmptyVersionID, which means "latest version".
type VersionID struct {
	value string
}

// EmptyVersionID requests no particular version.
var EmptyVersionID = VersionID{}

// NewVersionID returns the version identified by s. Blank input yields
// EmptyVersionID.
func NewVersionID(s string) VersionID {
	if strings.TrimSpace(s) == "" {
		return EmptyVersionID
	}
	return VersionID{value: s}
}

// IsValid reports whether v names a concrete version.
func (v VersionID) IsValid() bool {
	return v.value != ""
}

func (v VersionID) String() string {
	return v.value
}
