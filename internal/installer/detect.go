// SPDX-License-Identifier: MPL-2.0

package installer

import "strings"

const (
	// ClassUnsupported covers every platform without a package installer.
	ClassUnsupported Class = 0

	// ClassAndroid installs APKs through the system package installer.
	ClassAndroid Class = 1
)

// platformHint is set via -ldflags at build time to override detection.
//
//nolint:gochecknoglobals // Build-time ldflags injection requires a package-level variable.
var platformHint string

// Class identifies a platform family with respect to installing updates.
type Class int

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassAndroid:
		return "android"
	case ClassUnsupported:
		return "unsupported"
	}
	return "unsupported"
}

// DetectClass returns the platform class of the running binary. A build-time
// hint takes priority over the compiled-in class.
func DetectClass() Class {
	if platformHint != "" {
		return parseClassHint(platformHint)
	}
	return nativeClass
}

func parseClassHint(hint string) Class {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "android":
		return ClassAndroid
	default:
		return ClassUnsupported
	}
}
