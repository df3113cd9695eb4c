// SPDX-License-Identifier: MPL-2.0

// Package selfupdate implements the secure self-update pipeline: manifest
// retrieval, check throttling, integrity-verified download and fail-closed
// install gating.
//
// The package is organized into these concerns:
//   - client.go: HTTPS client for manifests and artifacts, with retries
//   - checksum.go: digest comparison and ChecksumError
//   - downloader.go: streaming artifacts to disk and verifying them
//   - errors.go: the closed set of failure kinds and KindOf
//   - state.go: pipeline states and allowed transitions
//   - updater.go: Updater type that composes the above for the end-to-end flow
package selfupdate
