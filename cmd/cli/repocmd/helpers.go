package repocmd

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/session"
)

const lockBusyMessageConstant = "another kite instance holds the resource lock"

// LoggerProvider supplies the structured logger shared across commands.
type LoggerProvider func() *zap.Logger

// SessionProvider builds the orchestration session a command invocation owns.
type SessionProvider func() (*session.Session, error)

var errSessionProviderMissing = errors.New("session provider not configured")

func acquireSession(provider SessionProvider) (*session.Session, error) {
	if provider == nil {
		return nil, errSessionProviderMissing
	}
	return provider()
}

// withLockedSession runs an operation holding the resource lock, closing the
// session afterwards.
func withLockedSession(provider SessionProvider, operation func(activeSession *session.Session) error) error {
	activeSession, sessionError := acquireSession(provider)
	if sessionError != nil {
		return sessionError
	}
	defer activeSession.Close()

	lockAcquired, lockError := activeSession.Lock.Acquire()
	if lockError != nil {
		return lockError
	}
	if !lockAcquired {
		return errors.New(lockBusyMessageConstant)
	}
	defer activeSession.Lock.Release()

	return operation(activeSession)
}

// withSession runs a read-only operation, closing the session afterwards.
func withSession(provider SessionProvider, operation func(activeSession *session.Session) error) error {
	activeSession, sessionError := acquireSession(provider)
	if sessionError != nil {
		return sessionError
	}
	defer activeSession.Close()

	return operation(activeSession)
}
