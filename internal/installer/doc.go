// SPDX-License-Identifier: MPL-2.0

// Package installer hands a verified artifact to the operating system's
// package installer. Only Android can install; every other platform gets an
// Installer whose CanInstall reports false.
package installer
