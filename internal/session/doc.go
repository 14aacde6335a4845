// Package session assembles the orchestration state one kite invocation
// needs: system settings, the repository registry, the installed packages
// database, the resource lock, and the resolution, hook, and backup
// services. A Session replaces ambient global state; every collaborator is
// reachable from it.
package session
