// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a known failure with long-form guidance.
//
//nolint:revive // Id matches the accessor name used throughout the CLI
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ManifestURLMissingId
	ManifestInvalidId
	TransportFailedId
	DownloadIncompleteId
	ArtifactTooLargeId
	DigestUnsupportedId
	IntegrityMismatchId
	WriteLocationUnavailableId
	PlatformNotSupportedId
	InstallFailedId
	UpdateBusyId
)

type (
	// MarkdownMsg is guidance text rendered with glamour.
	MarkdownMsg string

	// HttpLink is an external reference shown under "See also".
	//
	//nolint:revive // kept for symmetry with MarkdownMsg
	HttpLink string

	// Issue is a known failure and the Markdown explaining what to do about it.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id { return i.id } //nolint:revive

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// ExtLinks returns a copy of the issue's external links.
func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Render returns the issue as terminal-styled text. stylePath is a glamour
// style name ("dark", "light", "notty") or a path to a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.extLinks {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render //nolint:gochecknoglobals // replaced in tests

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Could not load the configuration!

The config file is missing, is not valid CUE, or holds a value the schema rejects.

## Things you can try:
- Print the effective configuration:
~~~
$ postmir-update config show
~~~
- Write a fresh default file and edit it:
~~~
$ postmir-update config init
~~~
- Check ` + "`POSTMIR_UPDATE_*`" + ` environment variables, they override the file`,
		extLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	manifestURLMissingIssue = &Issue{
		id: ManifestURLMissingId,
		mdMsg: `
# No manifest URL configured!

The updater needs to know where the release manifest is published.

## Things you can try:
- Set it in the config file:
~~~cue
manifest_url: "https://updates.example.com/manifest.json"
~~~
- Or pass it for a single run:
~~~
$ POSTMIR_UPDATE_MANIFEST_URL=https://updates.example.com/manifest.json postmir-update check
~~~`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# The release manifest was rejected!

The manifest could not be parsed or one of its fields failed validation.
Nothing was downloaded.

## Required fields:
- ` + "`versionCode`" + `: positive integer
- ` + "`apkUrl`" + `: an https URL
- ` + "`sha256`" + `: 64 hex characters

## Things you can try:
- Validate the published file locally:
~~~
$ postmir-update manifest validate manifest.json
~~~
- Regenerate it from the release artifact:
~~~
$ postmir-update manifest generate --url https://... --file app.apk --version-code 42
~~~`,
	}

	transportFailedIssue = &Issue{
		id: TransportFailedId,
		mdMsg: `
# Could not reach the update server!

The request failed or the server answered with an error status.

## Things you can try:
- Check your network connection and try again
- Verify the manifest URL opens in a browser
- Increase ` + "`download.retries`" + ` for flaky connections`,
	}

	downloadIncompleteIssue = &Issue{
		id: DownloadIncompleteId,
		mdMsg: `
# The download did not finish!

The connection closed before the whole artifact arrived. The partial file was removed.

## Things you can try:
- Run the command again
- Increase ` + "`download.timeout`" + ` on slow connections`,
	}

	artifactTooLargeIssue = &Issue{
		id: ArtifactTooLargeId,
		mdMsg: `
# The artifact is too large!

The server announced or sent more data than ` + "`max_artifact_bytes`" + ` allows.
The partial file was removed.

## Things you can try:
- Confirm the manifest points at the right file
- Raise ` + "`max_artifact_bytes`" + ` if releases have legitimately grown`,
	}

	digestUnsupportedIssue = &Issue{
		id: DigestUnsupportedId,
		mdMsg: `
# SHA-256 is not available!

The configured digest strategy cannot run here, so the download cannot be verified.
Unverified artifacts are never installed.

## Things you can try:
- Set the strategy back to automatic selection:
~~~cue
digest_strategy: "auto"
~~~`,
	}

	integrityMismatchIssue = &Issue{
		id: IntegrityMismatchId,
		mdMsg: `
# Integrity check failed!

The downloaded artifact does not match the SHA-256 published in the manifest.
The file was deleted and **nothing was installed**.

This can mean the download was corrupted, the manifest is stale, or the file
was tampered with in transit or on the server.

## Things you can try:
- Try again later; a release may be mid-upload
- Report it to the publisher if it keeps happening`,
	}

	writeLocationUnavailableIssue = &Issue{
		id: WriteLocationUnavailableId,
		mdMsg: `
# No writable download location!

The artifact could not be created in the cache or config directory.

## Things you can try:
- Check free disk space
- Point the download somewhere writable:
~~~cue
download: dir: "/path/with/space"
~~~`,
	}

	platformNotSupportedIssue = &Issue{
		id: PlatformNotSupportedId,
		mdMsg: `
# Installing is not supported here!

Updates can be checked and downloaded on any platform, but only Android hands
packages to the system installer.

## Things you can try:
- Use ` + "`postmir-update download`" + ` to fetch and verify the artifact
- Copy the verified file to the device and install it there`,
		extLinks: []HttpLink{"https://developer.android.com/tools/adb#am"},
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# The system installer could not be started!

The artifact was verified but handing it to the package installer failed.
The file was removed.

## Things you can try:
- Allow installs from this source in the device settings
- Run again with ` + "`--verbose`" + ` to see the installer output`,
	}

	updateBusyIssue = &Issue{
		id: UpdateBusyId,
		mdMsg: `
# An update is already in progress!

Only one download or install runs at a time.

## Things you can try:
- Wait for the running operation to finish and try again`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		manifestURLMissingIssue.Id():       manifestURLMissingIssue,
		manifestInvalidIssue.Id():          manifestInvalidIssue,
		transportFailedIssue.Id():          transportFailedIssue,
		downloadIncompleteIssue.Id():       downloadIncompleteIssue,
		artifactTooLargeIssue.Id():         artifactTooLargeIssue,
		digestUnsupportedIssue.Id():        digestUnsupportedIssue,
		integrityMismatchIssue.Id():        integrityMismatchIssue,
		writeLocationUnavailableIssue.Id(): writeLocationUnavailableIssue,
		platformNotSupportedIssue.Id():     platformNotSupportedIssue,
		installFailedIssue.Id():            installFailedIssue,
		updateBusyIssue.Id():               updateBusyIssue,
	}
)

// Values returns every known issue ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Get returns the issue for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
