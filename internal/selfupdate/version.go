package selfupdate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	goversion "github.com/hashicorp/go-version"
)

// Values of the update.version_compare setting.
const (
	CompareFloat  = "float"
	CompareSemver = "semver"
)

// Comparator reports whether candidate is newer than current. Both
// arguments are already normalized with NormalizeTag. Versions that cannot
// be parsed are never newer.
type Comparator func(current, candidate string) bool

// NormalizeTag strips one leading non-digit marker, as in "v1.2".
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	r := []rune(tag)
	if !unicode.IsDigit(r[0]) {
		return string(r[1:])
	}
	return tag
}

// FloatNewer compares both versions as floating point numbers. "1.10" is
// older than "1.9" here and "1.2.3" does not parse at all; SemverNewer
// handles both.
func FloatNewer(current, candidate string) bool {
	cur, err := strconv.ParseFloat(current, 64)
	if err != nil {
		return false
	}
	cand, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return false
	}
	return cand > cur
}

// SemverNewer compares dotted numeric versions segment by segment.
func SemverNewer(current, candidate string) bool {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return false
	}
	cand, err := goversion.NewVersion(candidate)
	if err != nil {
		return false
	}
	return cand.GreaterThan(cur)
}

// ComparatorFor maps the update.version_compare setting to a Comparator.
func ComparatorFor(mode string) (Comparator, error) {
	switch mode {
	case "", CompareFloat:
		return FloatNewer, nil
	case CompareSemver:
		return SemverNewer, nil
	default:
		return nil, fmt.Errorf("unknown version comparison %q", mode)
	}
}
