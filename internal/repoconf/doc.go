// Package repoconf owns the repository configuration file: the pipe-delimited
// line format describing each repository and the atomic read-modify-write
// transformations the registry applies to it.
//
// The wire format is line oriented. Repository lines have exactly five
// pipe-delimited fields; a single leading '#' marks a disabled entry; every
// other line passes through mutations byte for byte.
package repoconf
