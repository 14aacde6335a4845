package maskcmd

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/session"
)

const (
	lockBusyMessageConstant      = "another kite instance holds the resource lock"
	atomNotFoundTemplateConstant = "no repository provides %q"
)

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

func withSession(provider SessionProvider, operation func(activeSession *session.Session) error) error {
	activeSession, sessionError := acquireSession(provider)
	if sessionError != nil {
		return sessionError
	}
	defer activeSession.Close()

	return operation(activeSession)
}

// resolveAtom matches an atom against the enabled repositories in priority
// order and returns the first hit.
func resolveAtom(activeSession *session.Session, atom string) (pkgdb.PackageMatch, error) {
	for _, repositoryID := range activeSession.Registry.Repositories() {
		handle, openError := activeSession.Registry.OpenRepository(repositoryID)
		if openError != nil {
			continue
		}
		packageID, matchError := handle.AtomMatch(atom)
		if matchError != nil {
			return pkgdb.PackageMatch{}, matchError
		}
		if packageID == pkgdb.UnknownPackageID {
			continue
		}
		return pkgdb.PackageMatch{PackageID: packageID, RepositoryID: repositoryID}, nil
	}
	return pkgdb.PackageMatch{}, fmt.Errorf(atomNotFoundTemplateConstant, atom)
}
