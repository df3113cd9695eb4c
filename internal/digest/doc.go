// SPDX-License-Identifier: MPL-2.0

// Package digest computes SHA-256 digests of downloaded artifacts.
//
// Two interchangeable strategies exist: Platform uses the runtime's crypto
// provider and Software is a self-contained implementation used when the
// provider is unavailable. Engine adds the size guard and filesystem access.
package digest
