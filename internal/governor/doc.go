// SPDX-License-Identifier: MPL-2.0

// Package governor decides when the update endpoint may be polled and whether
// a discovered version has already been surfaced to the user. Its state lives
// in a Store so it survives restarts.
package governor
