// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/postmir/postmir-update/internal/digest"
	"github.com/postmir/postmir-update/internal/manifest"
	"github.com/postmir/postmir-update/internal/selfupdate"
)

const (
	// envSignature and envSignatureAlg carry a detached signature into generated manifests.
	envSignature    = "UPDATE_SIGNATURE"
	envSignatureAlg = "UPDATE_SIGNATURE_ALG"
)

var errDigestSource = errors.New("exactly one of --sha256 or --file is required")

// manifestGenerateParams holds the inputs of `manifest generate`.
type manifestGenerateParams struct {
	url          string
	sha256       string
	file         string
	versionCode  int64
	versionName  string
	notes        string
	signature    string
	signatureAlg string
}

// newManifestCommand creates the `postmir-update manifest` command tree.
func newManifestCommand(app *App) *cobra.Command {
	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "Generate and validate release manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	generateCmd := &cobra.Command{
		Use:   "generate [notes...]",
		Short: "Print a manifest for a release artifact",
		Long: `Print a manifest for a release artifact.

The digest is taken from --sha256 or computed from --file. Remaining
arguments become the release notes. A detached signature can be attached
through the ` + envSignature + ` and ` + envSignatureAlg + ` environment variables;
it is published as-is.`,
		Example: `  postmir-update manifest generate \
    --url https://updates.example.com/app-42.apk \
    --file build/app-release.apk \
    --version-code 42 --version-name 1.4.0 \
    "Fixes sync on slow networks" > manifest.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := manifestGenerateParams{
				notes:        strings.Join(args, " "),
				signature:    os.Getenv(envSignature),
				signatureAlg: os.Getenv(envSignatureAlg),
			}
			p.url, _ = cmd.Flags().GetString("url")
			p.sha256, _ = cmd.Flags().GetString("sha256")
			p.file, _ = cmd.Flags().GetString("file")
			p.versionCode, _ = cmd.Flags().GetInt64("version-code")
			p.versionName, _ = cmd.Flags().GetString("version-name")

			if err := runManifestGenerate(app, cmd.OutOrStdout(), p); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	}
	generateCmd.Flags().String("url", "", "https URL the artifact is served from")
	generateCmd.Flags().String("sha256", "", "artifact SHA-256 as 64 hex characters")
	generateCmd.Flags().String("file", "", "artifact file to digest")
	generateCmd.Flags().Int64("version-code", 0, "monotonic build number")
	generateCmd.Flags().String("version-name", "", "human-readable version")
	_ = generateCmd.MarkFlagRequired("url")
	_ = generateCmd.MarkFlagRequired("version-code")
	generateCmd.MarkFlagsOneRequired("sha256", "file")
	generateCmd.MarkFlagsMutuallyExclusive("sha256", "file")

	manifestCmd.AddCommand(generateCmd)

	manifestCmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runManifestValidate(app, cmd.OutOrStdout(), args[0]); err != nil {
				return app.reportError(cmd.ErrOrStderr(), err)
			}
			return nil
		},
	})

	return manifestCmd
}

// runManifestGenerate builds a manifest from p and writes it as indented JSON.
func runManifestGenerate(app *App, stdout io.Writer, p manifestGenerateParams) error {
	if (p.sha256 == "") == (p.file == "") {
		return errDigestSource
	}

	sum := strings.ToLower(strings.TrimSpace(p.sha256))
	if p.file != "" {
		engine, err := digest.NewEngine(digest.WithFs(app.Fs))
		if err != nil {
			return &selfupdate.Error{Kind: selfupdate.KindDigestUnsupported, Op: "generate", Err: err}
		}
		if sum, err = engine.FileDigest(p.file); err != nil {
			return fmt.Errorf("digest %s: %w", p.file, err)
		}
		app.logger.Debug("computed digest", "file", p.file, "sha256", sum, "strategy", engine.Strategy().Name())
	}

	m, err := manifest.Generate(manifest.GenerateOptions{
		VersionCode:        p.versionCode,
		VersionName:        p.versionName,
		ArtifactURL:        p.url,
		Digest:             sum,
		Signature:          p.signature,
		SignatureAlgorithm: p.signatureAlg,
		Notes:              p.notes,
		PublishedAt:        app.Now(),
	})
	if err != nil {
		return &selfupdate.Error{Kind: selfupdate.KindManifestInvalid, Op: "generate", Err: err}
	}

	data, err := manifest.MarshalIndent(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = stdout.Write(data)
	return err
}

// runManifestValidate parses the manifest at path and prints a summary.
func runManifestValidate(app *App, stdout io.Writer, path string) error {
	data, err := afero.ReadFile(app.Fs, path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return &selfupdate.Error{Kind: selfupdate.KindManifestInvalid, Op: "validate", Err: err}
	}

	fmt.Fprintln(stdout, SuccessStyle.Render("✓ Manifest is valid"))
	fmt.Fprintln(stdout, field("Version", m.DisplayVersion()))
	fmt.Fprintln(stdout, field("Version code", fmt.Sprint(m.VersionCode())))
	fmt.Fprintln(stdout, field("Artifact", CmdStyle.Render(m.ArtifactURL())))
	fmt.Fprintln(stdout, field("SHA-256", m.Digest()))
	if m.Signature() != "" {
		fmt.Fprintln(stdout, field("Signature", m.SignatureAlgorithm()+SubtitleStyle.Render(" (not verified)")))
	}
	return nil
}
