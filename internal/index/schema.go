// Package index implements the LTFS label/index XML schema (spec.md §4.7,
// §4.8): a streaming pull parser and a two-pass writer that stamps
// generation number, self-pointer, and back-pointer after the index's own
// block offset is known. It also installs label.SetXMLLabelCodec so the
// label layer can format/mount without importing this package directly.
package index

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ltfscore/ltfscore/internal/ltfserr"
)

// Version is a parsed X.Y.Z schema version (spec.md §4.7: "legacy 1.0
// accepted").
type Version struct {
	Major, Minor, Micro int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Micro)
}

func (v Version) less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Micro < o.Micro
}

// ParseVersion parses "X.Y.Z" or the legacy "X.Y" form.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return Version{}, ltfserr.New(ltfserr.UnsupportedIndexVersion, "malformed version string")
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, ltfserr.New(ltfserr.UnsupportedIndexVersion, "malformed version string")
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Micro: nums[2]}, nil
}

// Supported schema version range (spec.md §4.7).
var (
	minSupported = Version{Major: 1, Minor: 0, Micro: 0}
	maxSupported = Version{Major: 2, Minor: 4, Micro: 0}
)

// CurrentVersion is the schema version this package writes for new indexes.
var CurrentVersion = maxSupported

// CheckSupported rejects out-of-range versions distinctly from malformed
// ones, per spec.md §4.7.
func CheckSupported(v Version) error {
	if v.less(minSupported) || maxSupported.less(v) {
		return ltfserr.New(ltfserr.UnsupportedIndexVersion, fmt.Sprintf("version %s is outside the supported range %s-%s", v, minSupported, maxSupported))
	}
	return nil
}

// versionUIDIntroduced and versionSparseOffsetIntroduced gate the uid tag
// and the extent fileoffset tag (spec.md §4.7, "Version-gated tags"):
// indexes older than this never carry these tags, so the loader assigns
// UIDs at load time and rebuilds each extent's fileoffset from the end of
// the previous extent. A missing backuptime is cloned from creationtime at
// any version.
var versionUIDIntroduced = Version{Major: 2, Minor: 0, Micro: 0}
var versionSparseOffsetIntroduced = Version{Major: 2, Minor: 0, Micro: 0}

func hasUIDTag(v Version) bool      { return !v.less(versionUIDIntroduced) }
func hasSparseOffset(v Version) bool { return !v.less(versionSparseOffsetIntroduced) }

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		timeLayout,
		"2006-01-02T15:04:05.999999999Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ltfserr.New(ltfserr.IndexInvalid, "malformed timestamp: "+s)
}
