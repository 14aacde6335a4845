package resourcelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	lockDirectoryModeConstant       = 0o775
	pidFileModeConstant             = 0o664
	createLockDirectoryErrTemplate  = "unable to create lock directory %s: %w"
	openPIDFileErrorTemplateConst   = "unable to open lock file %s: %w"
	flockErrorTemplateConstant      = "unable to lock %s: %w"
	writePIDErrorTemplateConstant   = "unable to record process id in %s: %w"
	releaseWithoutAcquireMessage    = "release called without a held resource lock"
	unlockFailedMessageConstant     = "resource lock unlock failed"
	closeLockFileFailedMessageConst = "resource lock file close failed"
	logFieldLockPathConstant        = "lock_path"
)

// Manager guards one named resource lock for the owning session context. It
// is not safe for concurrent use by multiple goroutines; it serializes
// processes, not threads.
type Manager struct {
	pidFilePath string
	logger      *zap.Logger
	lockFile    *os.File
	counter     int
}

// NewManager constructs a Manager for the supplied PID file path.
func NewManager(pidFilePath string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{pidFilePath: pidFilePath, logger: logger}
}

// PIDFilePath returns the lock's PID file location.
func (manager *Manager) PIDFilePath() string {
	return manager.pidFilePath
}

// HeldCount returns the current reentrancy depth.
func (manager *Manager) HeldCount() int {
	return manager.counter
}

// Acquire obtains the resource lock. Reentrant acquisitions only increment
// the counter. Contention with another process is reported as (false, nil),
// never as an error.
func (manager *Manager) Acquire() (bool, error) {
	if manager.counter > 0 {
		manager.counter++
		return true, nil
	}

	lockDirectory := filepath.Dir(manager.pidFilePath)
	if makeDirectoryError := os.MkdirAll(lockDirectory, lockDirectoryModeConstant); makeDirectoryError != nil {
		return false, fmt.Errorf(createLockDirectoryErrTemplate, lockDirectory, makeDirectoryError)
	}

	lockFile, openError := os.OpenFile(manager.pidFilePath, os.O_CREATE|os.O_RDWR, pidFileModeConstant)
	if openError != nil {
		return false, fmt.Errorf(openPIDFileErrorTemplateConst, manager.pidFilePath, openError)
	}

	flockError := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if flockError != nil {
		lockFile.Close()
		if errors.Is(flockError, unix.EWOULDBLOCK) || errors.Is(flockError, unix.EAGAIN) || errors.Is(flockError, unix.EACCES) {
			return false, nil
		}
		return false, fmt.Errorf(flockErrorTemplateConstant, manager.pidFilePath, flockError)
	}

	if truncateError := lockFile.Truncate(0); truncateError != nil {
		lockFile.Close()
		return false, fmt.Errorf(writePIDErrorTemplateConstant, manager.pidFilePath, truncateError)
	}
	if _, writeError := lockFile.WriteString(strconv.Itoa(os.Getpid())); writeError != nil {
		lockFile.Close()
		return false, fmt.Errorf(writePIDErrorTemplateConstant, manager.pidFilePath, writeError)
	}
	if syncError := lockFile.Sync(); syncError != nil {
		lockFile.Close()
		return false, fmt.Errorf(writePIDErrorTemplateConstant, manager.pidFilePath, syncError)
	}

	manager.lockFile = lockFile
	manager.counter = 1
	return true, nil
}

// Release undoes one Acquire. Only the release that drops the counter to
// zero unlocks, closes, and deletes the PID file. Cleanup failures are
// logged and swallowed so cleanup always completes.
func (manager *Manager) Release() {
	if manager.counter == 0 {
		manager.logger.Debug(releaseWithoutAcquireMessage, zap.String(logFieldLockPathConstant, manager.pidFilePath))
		return
	}

	manager.counter--
	if manager.counter > 0 {
		return
	}

	if manager.lockFile != nil {
		if unlockError := unix.Flock(int(manager.lockFile.Fd()), unix.LOCK_UN); unlockError != nil {
			manager.logger.Warn(unlockFailedMessageConstant,
				zap.String(logFieldLockPathConstant, manager.pidFilePath), zap.Error(unlockError))
		}
		if closeError := manager.lockFile.Close(); closeError != nil {
			manager.logger.Warn(closeLockFileFailedMessageConst,
				zap.String(logFieldLockPathConstant, manager.pidFilePath), zap.Error(closeError))
		}
		manager.lockFile = nil
	}

	if _, statError := os.Stat(manager.pidFilePath); statError == nil {
		os.Remove(manager.pidFilePath)
	}
}

// IsLocked reports whether another live process currently holds the lock. A
// missing, unparseable, or stale PID file counts as unlocked.
func (manager *Manager) IsLocked() bool {
	pidBytes, readError := os.ReadFile(manager.pidFilePath)
	if readError != nil {
		return false
	}

	recordedPID, parseError := strconv.Atoi(strings.TrimSpace(strings.SplitN(string(pidBytes), "\n", 2)[0]))
	if parseError != nil {
		return false
	}
	if recordedPID == os.Getpid() {
		return false
	}
	return processExists(recordedPID)
}

func processExists(processID int) bool {
	if processID <= 0 {
		return false
	}
	signalError := unix.Kill(processID, 0)
	if signalError == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(signalError, unix.EPERM)
}
