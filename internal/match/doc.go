// Package match resolves package visibility and install actions: version
// comparison, install action classification, conflict discovery, mask and
// unmask management, and license gating.
package match
