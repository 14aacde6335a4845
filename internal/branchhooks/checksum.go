package branchhooks

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// PendingChecksumConstant stands in for the digest of an absent or unreadable
// script and is recorded as the post-upgrade checksum when the post-switch
// stage completes. It never equals a real script digest, so the post-upgrade
// stage stays armed.
const PendingChecksumConstant = "0"

func computeScriptChecksum(scriptPath string) (string, error) {
	scriptFile, openError := os.Open(scriptPath)
	if openError != nil {
		return "", openError
	}
	defer scriptFile.Close()

	digest := md5.New()
	if _, copyError := io.Copy(digest, scriptFile); copyError != nil {
		return "", copyError
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
