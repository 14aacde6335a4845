package match

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/settings"
)

// Action classifies what installing a candidate package would do relative to
// the installed package state.
type Action int

const (
	// ActionDowngrade replaces an installed entry with an older version.
	ActionDowngrade Action = -1
	// ActionReinstall replaces an installed entry with identical content.
	ActionReinstall Action = 0
	// ActionInstall adds a package with no installed counterpart in its slot.
	ActionInstall Action = 1
	// ActionUpgrade replaces an installed entry with newer or changed content.
	ActionUpgrade Action = 2
)

// String renders the action name.
func (action Action) String() string {
	switch action {
	case ActionDowngrade:
		return "downgrade"
	case ActionReinstall:
		return "reinstall"
	case ActionInstall:
		return "install"
	case ActionUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// RepositoryResolver hands out open package database handles by identifier.
type RepositoryResolver interface {
	OpenRepository(identifier string) (pkgdb.Repository, error)
}

// EngineDependencies enumerates the collaborators required by the resolution
// engine.
type EngineDependencies struct {
	Logger                *zap.Logger
	Settings              *settings.SystemSettings
	Resolver              RepositoryResolver
	InstalledDatabase     pkgdb.Repository
	InstalledRepositoryID string
}

// Engine answers action, conflict, masking, and license questions against
// the registry's repositories and the installed packages database.
type Engine struct {
	logger                *zap.Logger
	settings              *settings.SystemSettings
	resolver              RepositoryResolver
	installedDatabase     pkgdb.Repository
	installedRepositoryID string
}

var (
	errMissingLogger    = errors.New("resolution engine requires a logger")
	errMissingSettings  = errors.New("resolution engine requires system settings")
	errMissingResolver  = errors.New("resolution engine requires a repository resolver")
	errMissingInstalled = errors.New("resolution engine requires the installed packages database")
)

// NewEngine validates dependencies and constructs the resolution engine.
func NewEngine(dependencies EngineDependencies) (*Engine, error) {
	if dependencies.Logger == nil {
		return nil, errMissingLogger
	}
	if dependencies.Settings == nil {
		return nil, errMissingSettings
	}
	if dependencies.Resolver == nil {
		return nil, errMissingResolver
	}
	if dependencies.InstalledDatabase == nil {
		return nil, errMissingInstalled
	}
	return &Engine{
		logger:                dependencies.Logger,
		settings:              dependencies.Settings,
		resolver:              dependencies.Resolver,
		installedDatabase:     dependencies.InstalledDatabase,
		installedRepositoryID: dependencies.InstalledRepositoryID,
	}, nil
}

// ClassifyAction decides the install action for a candidate match. With no
// installed entry in the candidate's key and slot the action is install.
// Otherwise the version triples decide upgrade or downgrade; identical
// triples with a differing content digest still classify as upgrade, since
// the rebuilt package carries different content.
func (engine *Engine) ClassifyAction(candidate pkgdb.PackageMatch) (Action, error) {
	candidateHandle, resolveError := engine.resolver.OpenRepository(candidate.RepositoryID)
	if resolveError != nil {
		return ActionInstall, resolveError
	}

	candidateKeySlot, keySlotError := candidateHandle.KeySlot(candidate.PackageID)
	if keySlotError != nil {
		return ActionInstall, keySlotError
	}

	installedIdentifiers, searchError := engine.installedDatabase.SearchKeySlot(candidateKeySlot.Key, candidateKeySlot.Slot)
	if searchError != nil {
		return ActionInstall, searchError
	}
	if len(installedIdentifiers) == 0 {
		return ActionInstall, nil
	}

	candidateVersioning, candidateVersioningError := candidateHandle.VersioningData(candidate.PackageID)
	if candidateVersioningError != nil {
		return ActionInstall, candidateVersioningError
	}

	finalAction := ActionDowngrade
	for _, installedIdentifier := range installedIdentifiers {
		installedVersioning, installedVersioningError := engine.installedDatabase.VersioningData(installedIdentifier)
		if installedVersioningError != nil {
			return ActionInstall, installedVersioningError
		}

		switch comparison := CompareVersions(candidateVersioning, installedVersioning); {
		case comparison > 0:
			return ActionUpgrade, nil
		case comparison == 0:
			digestsDiffer, digestError := engine.digestsDiffer(candidateHandle, candidate.PackageID, installedIdentifier)
			if digestError != nil {
				return ActionInstall, digestError
			}
			if digestsDiffer {
				return ActionUpgrade, nil
			}
			finalAction = ActionReinstall
		}
	}
	return finalAction, nil
}

func (engine *Engine) digestsDiffer(candidateHandle pkgdb.Repository, candidateID int64, installedID int64) (bool, error) {
	candidateDigest, candidateDigestError := candidateHandle.Digest(candidateID)
	if candidateDigestError != nil {
		return false, candidateDigestError
	}
	installedDigest, installedDigestError := engine.installedDatabase.Digest(installedID)
	if installedDigestError != nil {
		return false, installedDigestError
	}
	return candidateDigest != installedDigest, nil
}

// FindConflicts resolves the candidate's declared conflict atoms against the
// installed packages database. Installed entries sharing the candidate's own
// key and slot are not conflicts; they are replacement targets.
func (engine *Engine) FindConflicts(candidate pkgdb.PackageMatch) ([]pkgdb.PackageMatch, error) {
	candidateHandle, resolveError := engine.resolver.OpenRepository(candidate.RepositoryID)
	if resolveError != nil {
		return nil, resolveError
	}

	conflictAtoms, conflictsError := candidateHandle.Conflicts(candidate.PackageID)
	if conflictsError != nil {
		return nil, conflictsError
	}
	candidateKeySlot, keySlotError := candidateHandle.KeySlot(candidate.PackageID)
	if keySlotError != nil {
		return nil, keySlotError
	}

	var conflictMatches []pkgdb.PackageMatch
	for _, conflictAtom := range conflictAtoms {
		installedIdentifier, matchError := engine.installedDatabase.AtomMatch(conflictAtom)
		if matchError != nil {
			return nil, matchError
		}
		if installedIdentifier == pkgdb.UnknownPackageID {
			continue
		}

		installedKeySlot, installedKeySlotError := engine.installedDatabase.KeySlot(installedIdentifier)
		if installedKeySlotError != nil {
			return nil, installedKeySlotError
		}
		if installedKeySlot == candidateKeySlot {
			continue
		}

		conflictMatches = append(conflictMatches, pkgdb.PackageMatch{
			PackageID:    installedIdentifier,
			RepositoryID: engine.installedRepositoryID,
		})
	}
	return conflictMatches, nil
}
