// SPDX-License-Identifier: MPL-2.0

// Package manifest models the release manifest published next to each build
// and the rules that decide whether an untrusted manifest is acceptable.
//
// A Manifest value can only be obtained through Validate, Parse or Generate,
// so holding one means every field already passed validation:
//   - manifest.go: the immutable Manifest type and its JSON wire format
//   - validate.go: ordered validation rules and ValidationError
//   - generate.go: building a manifest for publishing a new release
package manifest
