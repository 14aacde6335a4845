// Package backup creates and restores compressed snapshots of package
// database files, guarding both directions with free disk space preflight
// checks.
package backup
