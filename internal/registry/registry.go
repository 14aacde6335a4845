package registry

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/repoconf"
	"github.com/kitepkg/kite/internal/settings"
)

const (
	// InstalledRepositoryID is the distinguished identifier of the
	// installed-packages pseudo-repository.
	InstalledRepositoryID = "__system__"
	// BundleSuffixConstant marks package-bundle-derived dynamic repository
	// identifiers.
	BundleSuffixConstant = ".kpkg"

	bundleDescriptionTemplateConstant   = "Dynamic repository from %s"
	saveRepositoryErrorTemplateConstant = "unable to persist repository %s: %w"
	removeRepositoryErrorTemplate       = "unable to remove repository %s: %w"
	toggleRepositoryErrorTemplate       = "unable to toggle repository %s: %w"
	reorderRepositoriesErrorTemplate    = "unable to reorder repositories: %w"
	bundleNotValidatedErrorTemplate     = "package bundle repository %s failed validation"
	bundleEmptyErrorTemplateConstant    = "package bundle %s carries no package entries"
	bundleRollbackFailedMessageConstant = "package bundle rollback failed"
	settingsReloadFailedMessage         = "settings reload failed"
)

// ErrUnknownRepository reports an identifier absent from the registry.
var ErrUnknownRepository = errors.New("unknown repository identifier")

// PackageSourceSyncHook synchronizes freshly opened repository state with the
// external package source system. It reports whether anything changed.
type PackageSourceSyncHook func(repositoryID string, handle pkgdb.Repository) (bool, error)

// ResultCacheInvalidator drops global computation caches whose inputs changed.
type ResultCacheInvalidator interface {
	// InvalidateWorldUpdateCache drops the cached world-update result.
	InvalidateWorldUpdateCache()
	// InvalidateCriticalUpdateCache drops the cached critical-update result.
	InvalidateCriticalUpdateCache()
}

// DatabaseOpener opens package database handles.
type DatabaseOpener interface {
	// OpenDurable opens an on-disk package database read-only.
	OpenDurable(databaseFilePath string) (pkgdb.Repository, error)
	// OpenTemporary creates an in-memory package database.
	OpenTemporary(identifier string) (pkgdb.Repository, error)
}

type sqliteDatabaseOpener struct{}

func (sqliteDatabaseOpener) OpenDurable(databaseFilePath string) (pkgdb.Repository, error) {
	return pkgdb.OpenDatabase(databaseFilePath, true)
}

func (sqliteDatabaseOpener) OpenTemporary(identifier string) (pkgdb.Repository, error) {
	return pkgdb.OpenTemporary(identifier)
}

// NewSQLiteDatabaseOpener returns the production opener backed by pkgdb.
func NewSQLiteDatabaseOpener() DatabaseOpener {
	return sqliteDatabaseOpener{}
}

// CacheKey identifies one connection cache entry.
type CacheKey struct {
	RepositoryID string
	SystemRoot   string
}

// ServiceDependencies enumerates the collaborators required by the registry.
type ServiceDependencies struct {
	Logger            *zap.Logger
	Settings          *settings.SystemSettings
	Persistence       *repoconf.Persistence
	Opener            DatabaseOpener
	InstalledDatabase pkgdb.Repository
	SyncHook          PackageSourceSyncHook
	ResultCaches      ResultCacheInvalidator
	PrivilegeChecker  func() bool
}

// Service owns the repository registry and its connection cache. It carries
// no internal locking; callers serialize access and hold the resource lock
// across mutating sequences.
type Service struct {
	logger                *zap.Logger
	settings              *settings.SystemSettings
	persistence           *repoconf.Persistence
	opener                DatabaseOpener
	installedDatabase     pkgdb.Repository
	syncHook              PackageSourceSyncHook
	resultCaches          ResultCacheInvalidator
	privilegeChecker      func() bool
	connectionCache       map[CacheKey]pkgdb.Repository
	memoryInstances       map[CacheKey]pkgdb.Repository
	enabledIdentifiers    []string
	diagnosedFailures     map[string]struct{}
	syncedRepositories    map[string]struct{}
	maskValidatorProvider func(repositoryID string) pkgdb.ValidatorFunc
}

var errMissingLogger = errors.New("registry service requires a logger")
var errMissingSettings = errors.New("registry service requires system settings")
var errMissingPersistence = errors.New("registry service requires repository persistence")

// NewService validates dependencies and constructs the registry service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, errMissingLogger
	}
	if dependencies.Settings == nil {
		return nil, errMissingSettings
	}
	if dependencies.Persistence == nil {
		return nil, errMissingPersistence
	}
	if dependencies.Opener == nil {
		dependencies.Opener = NewSQLiteDatabaseOpener()
	}
	if dependencies.PrivilegeChecker == nil {
		dependencies.PrivilegeChecker = func() bool { return os.Geteuid() == 0 }
	}

	return &Service{
		logger:             dependencies.Logger,
		settings:           dependencies.Settings,
		persistence:        dependencies.Persistence,
		opener:             dependencies.Opener,
		installedDatabase:  dependencies.InstalledDatabase,
		syncHook:           dependencies.SyncHook,
		resultCaches:       dependencies.ResultCaches,
		privilegeChecker:   dependencies.PrivilegeChecker,
		connectionCache:    map[CacheKey]pkgdb.Repository{},
		memoryInstances:    map[CacheKey]pkgdb.Repository{},
		diagnosedFailures:  map[string]struct{}{},
		syncedRepositories: map[string]struct{}{},
	}, nil
}

// Settings exposes the owned system settings instance.
func (service *Service) Settings() *settings.SystemSettings {
	return service.settings
}

// InstalledDatabase returns the installed-packages database handle.
func (service *Service) InstalledDatabase() pkgdb.Repository {
	return service.installedDatabase
}

// Repositories returns the enabled and validated repository identifiers in
// priority order.
func (service *Service) Repositories() []string {
	return append([]string(nil), service.enabledIdentifiers...)
}

// SetMaskValidatorProvider installs the factory whose validators freshly
// opened handles consult for package visibility. The provider binds after
// construction because the resolution engine itself depends on the registry.
func (service *Service) SetMaskValidatorProvider(provider func(repositoryID string) pkgdb.ValidatorFunc) {
	service.maskValidatorProvider = provider
}

// IsDynamicIdentifier reports whether an identifier names a package-bundle
// derived repository.
func IsDynamicIdentifier(identifier string) bool {
	return strings.HasSuffix(identifier, BundleSuffixConstant)
}

// AddRepository inserts or overwrites a repository. Dynamic repositories
// (bundle-derived or temporary) take priority position zero and are never
// persisted; every other repository is written to the configuration file
// before caches are invalidated and the registry revalidated.
func (service *Service) AddRepository(metadata *settings.RepositoryMetadata) error {
	if IsDynamicIdentifier(metadata.Identifier) || metadata.Temporary {
		service.settings.Available[metadata.Identifier] = metadata
		service.settings.InsertInOrder(metadata.Identifier, 0)
		service.ValidateRepositories(false)
		return nil
	}

	if saveError := service.persistence.SaveRepository(settings.LineFromMetadata(metadata)); saveError != nil {
		return fmt.Errorf(saveRepositoryErrorTemplateConstant, metadata.Identifier, saveError)
	}

	service.invalidateResultCaches()
	service.CloseAllRepositories(true)
	service.ValidateRepositories(false)
	return nil
}

// RemoveRepository destroys a repository entry. This is the only legitimate
// destruction path for in-memory handles. When disable is set, the persisted
// entry is converted to a disabled comment instead of removed.
func (service *Service) RemoveRepository(identifier string, disable bool) error {
	_, knownAvailable := service.settings.Available[identifier]
	_, knownExcluded := service.settings.Excluded[identifier]
	known := knownAvailable || knownExcluded
	dynamic := IsDynamicIdentifier(identifier)

	if known && !dynamic {
		var persistError error
		if disable {
			persistError = service.persistence.SetRepositoryEnabled(identifier, false)
		} else {
			persistError = service.persistence.RemoveRepository(identifier)
		}
		if persistError != nil {
			return fmt.Errorf(removeRepositoryErrorTemplate, identifier, persistError)
		}
	}

	delete(service.settings.Available, identifier)
	delete(service.settings.Excluded, identifier)
	service.settings.RemoveFromOrder(identifier)
	service.removeFromEnabled(identifier)
	service.CloseAllRepositories(false)

	cacheKey := service.cacheKeyFor(identifier)
	if memoryHandle, exists := service.memoryInstances[cacheKey]; exists {
		if closeError := memoryHandle.Close(); closeError != nil {
			service.logger.Warn(closeHandleFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, identifier), zap.Error(closeError))
		}
		delete(service.memoryInstances, cacheKey)
	}

	service.CloseAllRepositories(true)
	service.ValidateRepositories(false)
	return nil
}

// EnableRepository uncomments the persisted entry and revalidates.
func (service *Service) EnableRepository(identifier string) error {
	if toggleError := service.persistence.SetRepositoryEnabled(identifier, true); toggleError != nil {
		return fmt.Errorf(toggleRepositoryErrorTemplate, identifier, toggleError)
	}
	service.reloadSettings()
	service.CloseAllRepositories(false)
	service.ValidateRepositories(false)
	return nil
}

// DisableRepository comments the persisted entry, drops the identifier from
// the ordered and enabled lists without renumbering the remaining
// priorities, and revalidates.
func (service *Service) DisableRepository(identifier string) error {
	if toggleError := service.persistence.SetRepositoryEnabled(identifier, false); toggleError != nil {
		return fmt.Errorf(toggleRepositoryErrorTemplate, identifier, toggleError)
	}
	delete(service.settings.Available, identifier)
	service.settings.RemoveFromOrder(identifier)
	service.removeFromEnabled(identifier)
	service.reloadSettings()
	service.CloseAllRepositories(false)
	service.ValidateRepositories(false)
	return nil
}

// ShiftRepository moves an identifier to a new priority position and rewrites
// the ordered configuration partition to match.
func (service *Service) ShiftRepository(identifier string, newPosition int) error {
	reordered := make([]string, 0, len(service.settings.Order))
	for _, orderedIdentifier := range service.settings.Order {
		if orderedIdentifier != identifier {
			reordered = append(reordered, orderedIdentifier)
		}
	}
	if newPosition < 0 {
		newPosition = 0
	}
	if newPosition > len(reordered) {
		newPosition = len(reordered)
	}
	reordered = append(reordered[:newPosition], append([]string{identifier}, reordered[newPosition:]...)...)

	if writeError := service.persistence.WriteOrderedRepositories(reordered); writeError != nil {
		return fmt.Errorf(reorderRepositoriesErrorTemplate, writeError)
	}

	service.reloadSettings()
	service.CloseAllRepositories(false)
	service.ValidateRepositories(false)
	return nil
}

// InitTemporaryRepository creates an in-memory repository, registers its
// handle, and inserts its metadata at top priority. The handle lives until
// RemoveRepository destroys it.
func (service *Service) InitTemporaryRepository(identifier string, description string, mirrors []string) (pkgdb.Repository, error) {
	temporaryHandle, openError := service.opener.OpenTemporary(identifier)
	if openError != nil {
		return nil, openError
	}

	service.memoryInstances[service.cacheKeyFor(identifier)] = temporaryHandle

	metadata := &settings.RepositoryMetadata{
		Identifier:  identifier,
		Description: description,
		Mirrors:     append([]string(nil), mirrors...),
		Temporary:   true,
	}
	if addError := service.AddRepository(metadata); addError != nil {
		return nil, addError
	}
	return temporaryHandle, nil
}

// AddPackageBundle registers a package-bundle-derived dynamic repository
// whose embedded database was extracted to databaseDirectory. It returns the
// package matches the bundle contains. Bundles carrying more than one entry
// are flagged as smart packages.
func (service *Service) AddPackageBundle(bundlePath string, databaseDirectory string) ([]pkgdb.PackageMatch, error) {
	bundleIdentifier := bundleBaseName(bundlePath)

	metadata := &settings.RepositoryMetadata{
		Identifier:   bundleIdentifier,
		Description:  fmt.Sprintf(bundleDescriptionTemplateConstant, bundleIdentifier),
		DatabasePath: databaseDirectory,
		PackagePath:  bundlePath,
	}

	probeHandle, openError := pkgdb.OpenDatabase(metadata.DatabaseFilePath(), false)
	if openError != nil {
		return nil, openError
	}
	packageIdentifiers, listError := probeHandle.ListAllPackageIDs()
	if listError != nil {
		probeHandle.Close()
		return nil, fmt.Errorf("%w: %v", pkgdb.ErrRepositoryCorrupted, listError)
	}
	if closeError := probeHandle.Close(); closeError != nil {
		service.logger.Warn(closeHandleFailedMessageConstant,
			zap.String(logFieldRepositoryConstant, bundleIdentifier), zap.Error(closeError))
	}

	if len(packageIdentifiers) == 0 {
		return nil, fmt.Errorf(bundleEmptyErrorTemplateConstant, bundlePath)
	}
	metadata.SmartPackage = len(packageIdentifiers) > 1

	if addError := service.AddRepository(metadata); addError != nil {
		return nil, addError
	}
	if !service.isEnabled(bundleIdentifier) {
		if rollbackError := service.RemoveRepository(bundleIdentifier, false); rollbackError != nil {
			service.logger.Warn(bundleRollbackFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, bundleIdentifier), zap.Error(rollbackError))
		}
		return nil, fmt.Errorf(bundleNotValidatedErrorTemplate, bundleIdentifier)
	}

	matches := make([]pkgdb.PackageMatch, 0, len(packageIdentifiers))
	for _, packageID := range packageIdentifiers {
		matches = append(matches, pkgdb.PackageMatch{PackageID: packageID, RepositoryID: bundleIdentifier})
	}
	return matches, nil
}

// RepositoryRevision reads the per-repository revision file, returning the
// -1 sentinel when it is absent or unreadable.
func (service *Service) RepositoryRevision(identifier string) int64 {
	metadata, exists := service.settings.RepositoryMetadataByIdentifier(identifier)
	if !exists {
		return pkgdb.UnknownRevision
	}
	return pkgdb.ReadRevision(metadata.RevisionFilePath())
}

func (service *Service) cacheKeyFor(identifier string) CacheKey {
	return CacheKey{RepositoryID: identifier, SystemRoot: service.settings.SystemRoot}
}

func (service *Service) removeFromEnabled(identifier string) {
	retained := service.enabledIdentifiers[:0]
	for _, enabledIdentifier := range service.enabledIdentifiers {
		if enabledIdentifier == identifier {
			continue
		}
		retained = append(retained, enabledIdentifier)
	}
	service.enabledIdentifiers = retained
}

func (service *Service) isEnabled(identifier string) bool {
	for _, enabledIdentifier := range service.enabledIdentifiers {
		if enabledIdentifier == identifier {
			return true
		}
	}
	return false
}

func (service *Service) invalidateResultCaches() {
	if service.resultCaches == nil {
		return
	}
	service.resultCaches.InvalidateWorldUpdateCache()
	service.resultCaches.InvalidateCriticalUpdateCache()
}

func (service *Service) reloadSettings() {
	if reloadError := service.settings.Clear(); reloadError != nil {
		service.logger.Warn(settingsReloadFailedMessage, zap.Error(reloadError))
	}
}

func bundleBaseName(bundlePath string) string {
	pathSeparatorIndex := strings.LastIndexByte(bundlePath, '/')
	return bundlePath[pathSeparatorIndex+1:]
}
