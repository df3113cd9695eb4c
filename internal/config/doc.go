// SPDX-License-Identifier: MPL-2.0

// Package config loads postmir-update settings using Viper with CUE as the file format.
//
// The file lives at $XDG_CONFIG_HOME/postmir-update/config.cue on Linux,
// ~/Library/Application Support/postmir-update/config.cue on macOS and
// %APPDATA%\postmir-update\config.cue on Windows. Every key can be overridden
// through a POSTMIR_UPDATE_ environment variable (dots become underscores,
// so download.retries is POSTMIR_UPDATE_DOWNLOAD_RETRIES).
//
// Files are validated against the embedded config_schema.cue before they are
// merged into Viper, and the decoded Config is validated again so that
// environment overrides obey the same rules.
package config
