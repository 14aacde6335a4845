package match

import (
	"strings"

	"github.com/kitepkg/kite/internal/pkgdb"
)

const versionSegmentSeparatorConstant = "."

// CompareVersions orders two version triples. The version strings are
// compared segment by segment, then the tags lexicographically, then the
// revisions numerically. The result is negative, zero, or positive.
func CompareVersions(left pkgdb.VersionTriple, right pkgdb.VersionTriple) int {
	if comparison := compareVersionStrings(left.Version, right.Version); comparison != 0 {
		return comparison
	}
	if comparison := strings.Compare(left.Tag, right.Tag); comparison != 0 {
		return comparison
	}
	switch {
	case left.Revision < right.Revision:
		return -1
	case left.Revision > right.Revision:
		return 1
	default:
		return 0
	}
}

// compareVersionStrings compares dot separated version segments. Missing
// segments count as zero, so "1.2" equals "1.2.0".
func compareVersionStrings(leftVersion string, rightVersion string) int {
	leftSegments := strings.Split(leftVersion, versionSegmentSeparatorConstant)
	rightSegments := strings.Split(rightVersion, versionSegmentSeparatorConstant)

	segmentCount := len(leftSegments)
	if len(rightSegments) > segmentCount {
		segmentCount = len(rightSegments)
	}

	for segmentIndex := 0; segmentIndex < segmentCount; segmentIndex++ {
		leftSegment := versionSegmentAt(leftSegments, segmentIndex)
		rightSegment := versionSegmentAt(rightSegments, segmentIndex)
		if comparison := compareVersionSegments(leftSegment, rightSegment); comparison != 0 {
			return comparison
		}
	}
	return 0
}

func versionSegmentAt(segments []string, segmentIndex int) string {
	if segmentIndex < len(segments) {
		return segments[segmentIndex]
	}
	return "0"
}

// compareVersionSegments compares the numeric prefixes of two segments, then
// the alphabetic remainders lexicographically. "3a" sorts after "3" and
// before "4".
func compareVersionSegments(leftSegment string, rightSegment string) int {
	leftNumber, leftRemainder := splitNumericPrefix(leftSegment)
	rightNumber, rightRemainder := splitNumericPrefix(rightSegment)

	switch {
	case leftNumber < rightNumber:
		return -1
	case leftNumber > rightNumber:
		return 1
	}
	return strings.Compare(leftRemainder, rightRemainder)
}

func splitNumericPrefix(segment string) (int64, string) {
	prefixEnd := 0
	for prefixEnd < len(segment) && segment[prefixEnd] >= '0' && segment[prefixEnd] <= '9' {
		prefixEnd++
	}

	var numericValue int64
	for _, digit := range segment[:prefixEnd] {
		numericValue = numericValue*10 + int64(digit-'0')
	}
	return numericValue, segment[prefixEnd:]
}
