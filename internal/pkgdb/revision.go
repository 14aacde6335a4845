package pkgdb

import (
	"os"
	"strconv"
	"strings"
)

const (
	// UnknownRevision is the sentinel returned when the revision file is
	// absent or unreadable.
	UnknownRevision int64 = -1
)

// ReadRevision reads a per-repository plain-text revision file holding a
// single integer. Any failure maps to UnknownRevision.
func ReadRevision(revisionFilePath string) int64 {
	revisionBytes, readError := os.ReadFile(revisionFilePath)
	if readError != nil {
		return UnknownRevision
	}
	firstLine := strings.TrimSpace(strings.SplitN(string(revisionBytes), "\n", 2)[0])
	revisionValue, parseError := strconv.ParseInt(firstLine, 10, 64)
	if parseError != nil {
		return UnknownRevision
	}
	return revisionValue
}
