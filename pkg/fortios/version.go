// Package fortios provides a read-only client for the FortiOS REST management API.
package fortios

import (
	"fmt"
	"strings"
)

// Version identifies a supported FortiOS release line.
type Version string

const (
	Version72 Version = "7.2"
	Version74 Version = "7.4"
)

// API paths relative to the device base URL.
const (
	PathSystemGlobal    = "api/v2/cmdb/system/global"
	PathSystemInterface = "api/v2/cmdb/system/interface"
)

// Valid reports whether v is one of the supported releases.
func (v Version) Valid() bool {
	switch v {
	case Version72, Version74:
		return true
	default:
		return false
	}
}

func (v Version) String() string { return string(v) }

// ParseVersion converts "7.2" or "7.4" (optionally prefixed with "v") to a Version.
func ParseVersion(s string) (Version, error) {
	v := Version(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v"))
	if !v.Valid() {
		return "", fmt.Errorf("%w: unsupported FortiOS version %q", ErrInvalidArgument, s)
	}
	return v, nil
}
