// Package catalog maps extension references such as "text@^1.0" to the code
// location a worker should load, resolving version ranges with SemVer.
package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const refLogPrefix = "catalog:ref"

var (
	extensionNameRegex = regexp.MustCompile(`^[a-z][a-zA-Z0-9_-]*$`)
	majorOnlyRegex     = regexp.MustCompile(`^\d+$`)
	exactVersionRegex  = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// Ref is a parsed extension reference.
type Ref struct {
	// Name of the extension (e.g. "text").
	Name string
	// Range is the version range; empty means the default major.
	Range string
	Raw   string
}

// ParseRef parses an extension reference.
//
// Supported formats:
//   - text           (default major)
//   - text@1         (major only)
//   - text@1.2.0     (exact version)
//   - text@^1.0      (caret range)
//   - text@>=1 <3    (comparison range)
func ParseRef(input string) (*Ref, error) {
	raw := strings.TrimSpace(input)
	name, rangeStr, _ := strings.Cut(raw, "@")

	if !extensionNameRegex.MatchString(name) {
		return nil, fmt.Errorf("%s - invalid extension name in %q", refLogPrefix, raw)
	}
	if strings.Contains(raw, "@") && strings.TrimSpace(rangeStr) == "" {
		return nil, fmt.Errorf("%s - empty version range in %q", refLogPrefix, raw)
	}
	return &Ref{Name: name, Range: strings.TrimSpace(rangeStr), Raw: raw}, nil
}

func (r Ref) String() string {
	if r.Range == "" {
		return r.Name
	}
	return r.Name + "@" + r.Range
}

// IsMajorOnly checks if a range is a major-only specifier (e.g. "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g. "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// majorOf returns the major of a major-only range, or -1.
func majorOf(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}
