// Package branchhooks runs the per-repository shell scripts that accompany a
// branch migration. Execution is idempotent per (repository, from-branch,
// to-branch, script-content) thanks to checksums recorded in the installed
// packages database.
package branchhooks
