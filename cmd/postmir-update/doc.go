// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the postmir-update command tree.
//
// Every command receives an *App, the composition root that owns the config
// provider, filesystem, HTTP client and installer. Tests build an App with
// in-memory collaborators and drive commands through newRootCommand.
package cmd
