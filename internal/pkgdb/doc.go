// Package pkgdb provides handles to the embedded per-repository package
// databases used by the kite package manager.
//
// A durable handle wraps a read-only SQLite file shipped by a repository; a
// temporary handle wraps an in-memory database whose contents exist only for
// the lifetime of the process. Both satisfy the Repository interface consumed
// by the registry, match, and branch hook layers.
package pkgdb
