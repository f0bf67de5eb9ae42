package catalog

import (
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

// Version statuses.
const (
	StatusActive     = "active"
	StatusDeprecated = "deprecated"
	StatusDisabled   = "disabled"
)

// Version is one published version of an extension.
type Version struct {
	Version  string `json:"version"`
	Location string `json:"location"`
	Status   string `json:"status,omitempty"`
}

type candidate struct {
	Version
	sv *masterminds.Version
}

// resolveVersion finds the best version for rangeStr. Disabled versions are
// never chosen; active beats deprecated within the same match set.
// Prereleases are only considered when the range itself names one.
func resolveVersion(versions []Version, rangeStr string, defaultMajor int) *Version {
	var cands []candidate
	for _, v := range versions {
		if v.Status == StatusDisabled {
			continue
		}
		sv, err := masterminds.NewVersion(v.Version)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{Version: v, sv: sv})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].sv.GreaterThan(cands[j].sv) })

	var match func(c candidate) bool
	switch {
	case rangeStr == "":
		major := defaultMajor
		if major < 0 {
			major = highestStableMajor(cands)
		}
		match = func(c candidate) bool { return c.sv.Prerelease() == "" && int(c.sv.Major()) == major }
	case IsMajorOnly(rangeStr):
		major := majorOf(rangeStr)
		match = func(c candidate) bool { return c.sv.Prerelease() == "" && int(c.sv.Major()) == major }
	default:
		constraint, err := masterminds.NewConstraint(rangeStr)
		if err != nil {
			match = func(c candidate) bool { return c.Version.Version == rangeStr }
		} else {
			match = func(c candidate) bool { return constraint.Check(c.sv) }
		}
	}

	var best *Version
	for i := range cands {
		if !match(cands[i]) {
			continue
		}
		if cands[i].Status != StatusDeprecated {
			return &cands[i].Version
		}
		if best == nil {
			best = &cands[i].Version
		}
	}
	return best
}

func highestStableMajor(cands []candidate) int {
	for _, c := range cands {
		if c.sv.Prerelease() == "" {
			return int(c.sv.Major())
		}
	}
	return -1
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == majorOf(rangeStr)
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}
