// SPDX-License-Identifier: MPL-2.0

package digest

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// StrategyName selects how digests are computed.
type StrategyName string

const (
	// StrategyAuto prefers the platform provider and falls back to software.
	StrategyAuto StrategyName = "auto"
	// StrategyPlatform requires the platform provider.
	StrategyPlatform StrategyName = "platform"
	// StrategySoftware always uses the built-in implementation.
	StrategySoftware StrategyName = "software"
)

// ErrUnsupported indicates that no usable SHA-256 implementation was selected.
var ErrUnsupported = errors.New("sha-256 digest unsupported")

// ErrInvalidStrategy is returned for strategy names outside auto, platform and software.
var ErrInvalidStrategy = errors.New("invalid digest strategy")

// platformAvailable reports whether the runtime crypto provider offers SHA-256.
// Overridden in tests.
var platformAvailable = crypto.SHA256.Available

type (
	// Strategy computes the SHA-256 of a byte slice as 64 lowercase hex chars.
	Strategy interface {
		Name() string
		Sum(data []byte) string
	}

	// Platform delegates to crypto/sha256.
	Platform struct{}

	// Software is a dependency-free SHA-256 implementation.
	Software struct{}
)

// Name returns "platform".
func (Platform) Name() string { return string(StrategyPlatform) }

// Sum returns the lowercase hex SHA-256 of data.
func (Platform) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Name returns "software".
func (Software) Name() string { return string(StrategySoftware) }

// Sum returns the lowercase hex SHA-256 of data.
func (Software) Sum(data []byte) string {
	sum := softwareSum256(data)
	return hex.EncodeToString(sum[:])
}

// IsValid returns whether the strategy name is one of the defined values,
// and a list of validation errors if it is not.
func (n StrategyName) IsValid() (bool, []error) {
	switch n {
	case StrategyAuto, StrategyPlatform, StrategySoftware:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w %q (expected auto, platform or software)", ErrInvalidStrategy, n)}
	}
}

// Select returns the strategy for name. An empty name means auto.
func Select(name StrategyName) (Strategy, error) {
	switch name {
	case StrategyAuto, "":
		if platformAvailable() {
			return Platform{}, nil
		}
		return Software{}, nil
	case StrategyPlatform:
		if !platformAvailable() {
			return nil, fmt.Errorf("%w: platform provider not available", ErrUnsupported)
		}
		return Platform{}, nil
	case StrategySoftware:
		return Software{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrUnsupported, name)
	}
}
