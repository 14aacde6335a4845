// Package resourcelock coordinates separate kite processes through a
// reentrant advisory lock backed by a PID file. The OS-level flock is held
// iff the in-process counter is positive; the PID file exists on disk iff
// this process holds the lock.
package resourcelock
