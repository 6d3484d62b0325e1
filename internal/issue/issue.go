// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Id identifies one catalog entry.
type Id int

const (
	ArchiveInvalidId Id = iota + 1
	ManifestInvalidId
	UpdateInFlightId
	UpdateRolledBackId
	ManualRecoveryRequiredId
	ExtensionNotReadyId
	ConfigLoadFailedId
)

type MarkdownMsg string

type HttpLink string

// Issue is one catalog entry: a rendered Markdown card for a failure mode,
// with optional documentation links.
type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
	extLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render returns the card rendered through glamour with the given style.
func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	archiveInvalidIssue = &Issue{
		id: ArchiveInvalidId,
		mdMsg: `
# Update archive rejected!

The archive failed validation before anything was touched, so your
installed extension is exactly as it was.

## Checks we run, in order:
1. The archive file exists
2. It is a readable ZIP file
3. It is not empty
4. Every entry passes checksum verification
5. All entries live under a single root folder
6. That folder carries an extension.toml at its top level

## Things you can try:
- Re-download the archive; truncated downloads are the most common cause
- Inspect the contents:
~~~
$ unzip -l the-archive.zip
~~~
- Rebuild the archive so every file sits inside one top-level folder`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Extension manifest invalid!

The extension.toml inside the archive could not be parsed or is missing
required fields. The installed extension was not touched.

## Required fields:
~~~toml
name = "My Extension"
version = "1.2.0"
namespace = "myext"
~~~

## Things you can try:
- Check the TOML syntax of extension.toml
- Make sure name, version, and namespace are present and non-empty`,
	}

	updateInFlightIssue = &Issue{
		id: UpdateInFlightId,
		mdMsg: `
# An update is already running!

Only one update transaction can run at a time per extension; the request
was refused without touching anything.

## Things you can try:
- Wait for the running update to reach a terminal state and retry
- Check the log output of the running update for its current phase`,
	}

	updateRolledBackIssue = &Issue{
		id: UpdateRolledBackId,
		mdMsg: `
# Update failed, previous version restored!

A step after the point of no return failed, so the engine restored your
previous version from its automatic backup. The extension is running the
old version; staging and backup have both been cleaned up.

## Things you can try:
- Run with verbose mode to see which phase failed:
~~~
$ hotswap --verbose apply the-archive.zip
~~~
- Check free disk space on the installation volume
- Retry the update; transient filesystem errors often clear`,
	}

	manualRecoveryRequiredIssue = &Issue{
		id: ManualRecoveryRequiredId,
		mdMsg: `
# Manual recovery required!

The update failed AND the automatic restore from backup failed too. The
installation directory is in an unknown state. Your backup has been kept.

## Recover by hand:
1. Find the backup directory next to the installation, named like
   ` + "`<extension>_backup_<timestamp>`" + `
2. Delete whatever is left of the installation directory
3. Copy the backup back into place:
~~~
$ rm -rf extensions/my_extension
$ cp -a extensions/my_extension_backup_20240601_123045 extensions/my_extension
~~~
4. Restart or reload the host so it picks the restored version up

Do **not** delete the backup until the extension works again.`,
	}

	extensionNotReadyIssue = &Issue{
		id: ExtensionNotReadyId,
		mdMsg: `
# Extension installed but not fully ready!

The new version is installed and its modules were reloaded, but the
readiness probe found a shortfall (see the detail above). This is not
rolled back: readiness often converges once the host finishes its own
initialization, and a delayed re-check runs automatically.

## Things you can try:
- Re-run the probe after a moment:
~~~
$ hotswap verify
~~~
- Check the reload summary for evicted modules; an evicted module takes
  its UI surfaces and commands with it
- If readiness never converges, reinstall the previous version`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the hotswap configuration file.

## Configuration file locations:
- Linux: ~/.config/hotswap/config.cue
- macOS: ~/Library/Application Support/hotswap/config.cue
- Windows: %APPDATA%\hotswap\config.cue

## Things you can try:
- Check the configuration syntax
- Remove the config file to run with defaults

## Example configuration:
~~~cue
extension: {
	namespace: "myext"
}

verify: {
	min_surfaces: 6
	min_commands: 10
	recheck_delay_seconds: 1
}

ui: {
	verbose: false
}
~~~`,
	}

	issues = map[Id]*Issue{
		archiveInvalidIssue.Id():         archiveInvalidIssue,
		manifestInvalidIssue.Id():        manifestInvalidIssue,
		updateInFlightIssue.Id():         updateInFlightIssue,
		updateRolledBackIssue.Id():       updateRolledBackIssue,
		manualRecoveryRequiredIssue.Id(): manualRecoveryRequiredIssue,
		extensionNotReadyIssue.Id():      extensionNotReadyIssue,
		configLoadFailedIssue.Id():       configLoadFailedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
