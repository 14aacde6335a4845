// Package execshell executes external processes on behalf of the kite core.
// It wraps os/exec with structured logging via ShellExecutor and exposes the
// hook script invocation used by branch migration.
package execshell
