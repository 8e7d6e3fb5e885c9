package action

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CurrentVersion is the document format version this parser writes and reads.
const CurrentVersion = "1.0"

var currentVersion = semver.MustParse(CurrentVersion)

// checkVersion accepts a missing Version attribute and any version not newer
// than CurrentVersion.
func checkVersion(root *element, source string) error {
	raw, ok := root.attr(attrVersion)
	if !ok {
		return nil
	}
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return malformed(source, root.attrPath(attrVersion), err, "invalid version %q", raw)
	}
	if v.GreaterThan(currentVersion) {
		return &ParseError{
			Kind:    KindUnsupportedVersion,
			Source:  source,
			Path:    root.attrPath(attrVersion),
			Message: "version " + raw + " is newer than supported " + CurrentVersion,
		}
	}
	return nil
}
