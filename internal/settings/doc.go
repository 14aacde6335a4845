// Package settings holds the process-wide configuration state of the kite
// core: repository metadata tables, branch and product selection, masking
// files and their live in-memory overlay, license whitelists, and the closed
// enumeration of package masking reasons.
package settings
