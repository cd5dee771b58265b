// Package version parses and orders application version tags.
//
// Tags follow a loose semver shape: an optional "v" prefix, numeric
// major.minor with an optional patch, and a free-form suffix ("1.2",
// "v1.2.3", "1.2.3rc1"). Ordering is numeric-aware, so "1.10.0" is newer
// than "1.9.0", and a suffix-less tag outranks any suffixed tag with the
// same numbers.
package version

import (
	"regexp"
	"sort"
	"strconv"
)

var tagRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+))?([a-zA-Z0-9.-]*)$`)

// Version is one parsed tag. Raw keeps the original spelling for display
// and git operations.
type Version struct {
	Raw    string
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

// Parse matches tag against the version pattern. The second return is
// false for tags that are not versions (branches, "lts", etc.).
func Parse(tag string) (Version, bool) {
	m := tagRegex.FindStringSubmatch(tag)
	if m == nil {
		return Version{}, false
	}
	v := Version{Raw: tag, Suffix: m[4]}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, true
}

// IsVersion reports whether tag parses as a version.
func IsVersion(tag string) bool {
	_, ok := Parse(tag)
	return ok
}

// Compare orders versions ascending: negative when v is older than other.
// Equal numbers rank a suffix-less version above a suffixed one; two
// suffixes compare lexicographically.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return v.Major - other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor - other.Minor
	}
	if v.Patch != other.Patch {
		return v.Patch - other.Patch
	}
	vEmpty, oEmpty := v.Suffix == "", other.Suffix == ""
	if vEmpty != oEmpty {
		if vEmpty {
			return 1
		}
		return -1
	}
	if v.Suffix < other.Suffix {
		return -1
	}
	if v.Suffix > other.Suffix {
		return 1
	}
	return 0
}

// CompareTags orders two raw tags ascending. A tag that does not parse
// ranks below any tag that does.
func CompareTags(a, b string) int {
	va, oka := Parse(a)
	vb, okb := Parse(b)
	switch {
	case oka && okb:
		return va.Compare(vb)
	case oka:
		return 1
	case okb:
		return -1
	default:
		return 0
	}
}

// SortDesc filters tags down to parseable versions and returns their raw
// forms ordered newest first.
func SortDesc(tags []string) []string {
	parsed := make([]Version, 0, len(tags))
	for _, tag := range tags {
		if v, ok := Parse(tag); ok {
			parsed = append(parsed, v)
		}
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].Compare(parsed[j]) > 0
	})
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Raw
	}
	return out
}
