package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/registry"
	"github.com/kitepkg/kite/internal/repoconf"
	"github.com/kitepkg/kite/internal/settings"
)

type countingCacheInvalidator struct {
	worldInvalidations    int
	criticalInvalidations int
}

func (invalidator *countingCacheInvalidator) InvalidateWorldUpdateCache() {
	invalidator.worldInvalidations++
}

func (invalidator *countingCacheInvalidator) InvalidateCriticalUpdateCache() {
	invalidator.criticalInvalidations++
}

type registryFixture struct {
	service             *registry.Service
	settings            *settings.SystemSettings
	persistence         *repoconf.Persistence
	installedRepository *pkgdb.SQLiteRepository
	databasesDirectory  string
	resultCaches        *countingCacheInvalidator
	syncedIdentifiers   []string
	syncStateChanged    bool
	privileged          bool
}

func newRegistryFixture(testInstance *testing.T, repositoryIdentifiers ...string) *registryFixture {
	testInstance.Helper()
	stateDirectory := testInstance.TempDir()
	configurationPath := filepath.Join(stateDirectory, "repositories.conf")

	content := ""
	for _, identifier := range repositoryIdentifiers {
		content += repoconf.FormatRepositoryLine(repoconf.RepositoryLine{
			Identifier:     identifier,
			Description:    strings.ToUpper(identifier),
			Mirrors:        []string{"https://mirror.example/pkg"},
			DatabaseURL:    "https://pkg.example.org/" + identifier,
			DatabaseFormat: "bz2",
			ServicePort:    1026,
			SSLServicePort: 1027,
		}) + "\n"
	}
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o644))

	systemSettings, settingsError := settings.New(settings.Options{
		SystemRoot:         "/",
		Branch:             "stable",
		ConfigurationPath:  configurationPath,
		DatabasesDirectory: filepath.Join(stateDirectory, "repositories"),
		MaskFilePath:       filepath.Join(stateDirectory, "package.mask"),
		UnmaskFilePath:     filepath.Join(stateDirectory, "package.unmask"),
	})
	require.NoError(testInstance, settingsError)

	installedRepository, installedError := pkgdb.OpenTemporary(strings.ReplaceAll(testInstance.Name(), "/", "_") + "-installed")
	require.NoError(testInstance, installedError)
	testInstance.Cleanup(func() { installedRepository.Close() })

	fixture := &registryFixture{
		settings:            systemSettings,
		persistence:         repoconf.NewPersistence(configurationPath),
		installedRepository: installedRepository,
		databasesDirectory:  systemSettings.DatabasesDirectory,
		resultCaches:        &countingCacheInvalidator{},
	}

	service, serviceError := registry.NewService(registry.ServiceDependencies{
		Logger:            zap.NewNop(),
		Settings:          systemSettings,
		Persistence:       fixture.persistence,
		InstalledDatabase: installedRepository,
		ResultCaches:      fixture.resultCaches,
		SyncHook: func(repositoryID string, handle pkgdb.Repository) (bool, error) {
			fixture.syncedIdentifiers = append(fixture.syncedIdentifiers, repositoryID)
			return fixture.syncStateChanged, nil
		},
		PrivilegeChecker: func() bool { return fixture.privileged },
	})
	require.NoError(testInstance, serviceError)
	fixture.service = service
	return fixture
}

// createRepositoryDatabase materializes a valid on-disk package database for
// the identifier so durable probes succeed.
func (fixture *registryFixture) createRepositoryDatabase(testInstance *testing.T, identifier string, records ...pkgdb.PackageRecord) {
	testInstance.Helper()
	databasePath := filepath.Join(fixture.databasesDirectory, identifier, settings.DatabaseFileNameConstant)
	repository, openError := pkgdb.OpenOrCreateDatabase(databasePath)
	require.NoError(testInstance, openError)
	for _, record := range records {
		_, insertError := repository.InsertPackage(record)
		require.NoError(testInstance, insertError)
	}
	require.NoError(testInstance, repository.Close())
}

func TestNewServiceRejectsMissingDependencies(testInstance *testing.T) {
	_, serviceError := registry.NewService(registry.ServiceDependencies{})
	require.Error(testInstance, serviceError)
}

func TestValidateRepositoriesDropsUnavailableDatabases(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "ready", "missing")
	fixture.createRepositoryDatabase(testInstance, "ready")

	fixture.service.ValidateRepositories(false)

	require.Equal(testInstance, []string{"ready"}, fixture.service.Repositories())
}

func TestValidateRepositoriesDropsCorruptedDatabases(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "broken")
	databasePath := filepath.Join(fixture.databasesDirectory, "broken", settings.DatabaseFileNameConstant)
	require.NoError(testInstance, os.MkdirAll(filepath.Dir(databasePath), 0o755))
	require.NoError(testInstance, os.WriteFile(databasePath, []byte("this is not a database"), 0o644))

	fixture.service.ValidateRepositories(false)

	require.Empty(testInstance, fixture.service.Repositories())
}

func TestOpenRepositoryClassifiesGarbageDatabaseAsCorrupted(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "broken")
	databasePath := filepath.Join(fixture.databasesDirectory, "broken", settings.DatabaseFileNameConstant)
	require.NoError(testInstance, os.MkdirAll(filepath.Dir(databasePath), 0o755))
	require.NoError(testInstance, os.WriteFile(databasePath, []byte("this is not a database"), 0o644))

	_, openError := fixture.service.OpenRepository("broken")
	require.ErrorIs(testInstance, openError, pkgdb.ErrRepositoryCorrupted)
	require.False(testInstance, pkgdb.IsNotAvailable(openError))
}

func TestOpenRepositoryCachesConnections(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")
	fixture.service.ValidateRepositories(false)

	firstHandle, firstOpenError := fixture.service.OpenRepository("main")
	require.NoError(testInstance, firstOpenError)
	require.True(testInstance, fixture.service.IsConnectionCached("main"))

	secondHandle, secondOpenError := fixture.service.OpenRepository("main")
	require.NoError(testInstance, secondOpenError)
	require.Same(testInstance, firstHandle, secondHandle)

	fixture.service.CloseAllRepositories(false)
	require.False(testInstance, fixture.service.IsConnectionCached("main"))
}

func TestOpenRepositoryInstallsMaskValidator(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main", pkgdb.PackageRecord{
		Category: "app-misc", Name: "tool", Version: "1.0",
	})
	fixture.service.SetMaskValidatorProvider(func(repositoryID string) pkgdb.ValidatorFunc {
		require.Equal(testInstance, "main", repositoryID)
		return func(packageID int64, live bool) (int64, pkgdb.ReasonCode) {
			return pkgdb.UnknownPackageID, pkgdb.ReasonCode(2)
		}
	})
	fixture.service.ValidateRepositories(false)

	handle, openError := fixture.service.OpenRepository("main")
	require.NoError(testInstance, openError)

	maskedID, reasonCode := handle.PackageValidator(1, false)
	require.Equal(testInstance, pkgdb.UnknownPackageID, maskedID)
	require.Equal(testInstance, pkgdb.ReasonCode(2), reasonCode)
}

func TestOpenRepositoryUnknownIdentifier(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	_, openError := fixture.service.OpenRepository("nowhere")
	require.ErrorIs(testInstance, openError, registry.ErrUnknownRepository)
}

func TestOpenRepositoryInstalledShortCircuit(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	installedHandle, openError := fixture.service.OpenRepository(registry.InstalledRepositoryID)
	require.NoError(testInstance, openError)
	require.Same(testInstance, pkgdb.Repository(fixture.installedRepository), installedHandle)
}

func TestTemporaryRepositorySurvivesConnectionFlushes(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	temporaryHandle, initError := fixture.service.InitTemporaryRepository("scratch", "Scratch space", nil)
	require.NoError(testInstance, initError)
	require.Equal(testInstance, []string{"scratch"}, fixture.service.Repositories())

	packageID, insertError := temporaryHandle.InsertPackage(pkgdb.PackageRecord{
		Category: "app-misc", Name: "tool", Version: "1.0",
	})
	require.NoError(testInstance, insertError)

	fixture.service.CloseAllRepositories(false)
	fixture.service.CloseAllRepositories(true)

	reopenedHandle, openError := fixture.service.OpenRepository("scratch")
	require.NoError(testInstance, openError)
	matchedID, matchError := reopenedHandle.AtomMatch("app-misc/tool")
	require.NoError(testInstance, matchError)
	require.Equal(testInstance, packageID, matchedID)
}

func TestRemoveRepositoryDestroysTemporaryHandle(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	_, initError := fixture.service.InitTemporaryRepository("scratch", "Scratch space", nil)
	require.NoError(testInstance, initError)

	require.NoError(testInstance, fixture.service.RemoveRepository("scratch", false))

	_, openError := fixture.service.OpenRepository("scratch")
	require.ErrorIs(testInstance, openError, registry.ErrUnknownRepository)
	require.Empty(testInstance, fixture.service.Repositories())
}

func TestAddRepositoryPersistsConfiguration(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)
	fixture.createRepositoryDatabase(testInstance, "fresh")

	addError := fixture.service.AddRepository(&settings.RepositoryMetadata{
		Identifier:     "fresh",
		Description:    "Fresh repository",
		DatabaseURL:    "https://pkg.example.org/fresh",
		DatabaseFormat: "bz2",
		ServicePort:    1026,
		SSLServicePort: 1027,
	})
	require.NoError(testInstance, addError)

	persistedLines, loadError := fixture.persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, persistedLines, 1)
	require.Equal(testInstance, "fresh", persistedLines[0].Identifier)
	require.Equal(testInstance, []string{"fresh"}, fixture.service.Repositories())
	require.Positive(testInstance, fixture.resultCaches.worldInvalidations)
}

func TestRemoveRepositoryDeletesPersistedEntry(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")
	fixture.service.ValidateRepositories(false)

	require.NoError(testInstance, fixture.service.RemoveRepository("main", false))

	persistedLines, loadError := fixture.persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Empty(testInstance, persistedLines)
	require.Empty(testInstance, fixture.service.Repositories())
	require.NotContains(testInstance, fixture.settings.Available, "main")
}

func TestRemoveRepositoryWithDisableKeepsEntry(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")
	fixture.service.ValidateRepositories(false)

	require.NoError(testInstance, fixture.service.RemoveRepository("main", true))

	persistedLines, loadError := fixture.persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, persistedLines, 1)
	require.True(testInstance, persistedLines[0].Disabled)
	require.Contains(testInstance, fixture.settings.Excluded, "main")
	require.Empty(testInstance, fixture.service.Repositories())
}

func TestEnableDisableRepositoryRoundTrip(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")
	fixture.service.ValidateRepositories(false)
	require.Equal(testInstance, []string{"main"}, fixture.service.Repositories())

	require.NoError(testInstance, fixture.service.DisableRepository("main"))
	require.Empty(testInstance, fixture.service.Repositories())
	require.Contains(testInstance, fixture.settings.Excluded, "main")

	require.NoError(testInstance, fixture.service.EnableRepository("main"))
	require.Equal(testInstance, []string{"main"}, fixture.service.Repositories())
	require.Contains(testInstance, fixture.settings.Available, "main")
}

func TestShiftRepositoryReordersPriorities(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "first", "second", "third")
	for _, identifier := range []string{"first", "second", "third"} {
		fixture.createRepositoryDatabase(testInstance, identifier)
	}
	fixture.service.ValidateRepositories(false)

	require.NoError(testInstance, fixture.service.ShiftRepository("third", 0))

	require.Equal(testInstance, []string{"third", "first", "second"}, fixture.settings.Order)
	require.Equal(testInstance, []string{"third", "first", "second"}, fixture.service.Repositories())

	persistedLines, loadError := fixture.persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, "third", persistedLines[0].Identifier)
}

func TestSyncHookRunsOncePerRepositoryUnderPrivilege(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")
	fixture.privileged = true
	fixture.syncStateChanged = true

	fixture.service.ValidateRepositories(false)
	fixture.service.CloseAllRepositories(false)
	_, openError := fixture.service.OpenRepository("main")
	require.NoError(testInstance, openError)

	require.Equal(testInstance, []string{"main"}, fixture.syncedIdentifiers)
	require.Positive(testInstance, fixture.resultCaches.worldInvalidations)
	require.Positive(testInstance, fixture.resultCaches.criticalInvalidations)
}

func TestSyncHookSkippedWithoutPrivilege(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")

	fixture.service.ValidateRepositories(false)

	require.Empty(testInstance, fixture.syncedIdentifiers)
}

func TestRepositoryRevision(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance, "main")
	fixture.createRepositoryDatabase(testInstance, "main")

	require.Equal(testInstance, pkgdb.UnknownRevision, fixture.service.RepositoryRevision("main"))
	require.Equal(testInstance, pkgdb.UnknownRevision, fixture.service.RepositoryRevision("absent"))

	revisionPath := filepath.Join(fixture.databasesDirectory, "main", settings.RevisionFileNameConstant)
	require.NoError(testInstance, os.WriteFile(revisionPath, []byte("17\n"), 0o644))
	require.Equal(testInstance, int64(17), fixture.service.RepositoryRevision("main"))
}

func TestIsDynamicIdentifier(testInstance *testing.T) {
	require.True(testInstance, registry.IsDynamicIdentifier("bundle.kpkg"))
	require.False(testInstance, registry.IsDynamicIdentifier("main"))
}

func TestAddPackageBundleRegistersDynamicRepository(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	bundleDatabaseDirectory := filepath.Join(testInstance.TempDir(), "extracted")
	bundleRepository, openError := pkgdb.OpenOrCreateDatabase(filepath.Join(bundleDatabaseDirectory, settings.DatabaseFileNameConstant))
	require.NoError(testInstance, openError)
	firstID, firstInsertError := bundleRepository.InsertPackage(pkgdb.PackageRecord{
		Category: "app-misc", Name: "tool", Version: "1.0",
	})
	require.NoError(testInstance, firstInsertError)
	secondID, secondInsertError := bundleRepository.InsertPackage(pkgdb.PackageRecord{
		Category: "app-misc", Name: "helper", Version: "1.0",
	})
	require.NoError(testInstance, secondInsertError)
	require.NoError(testInstance, bundleRepository.Close())

	matches, bundleError := fixture.service.AddPackageBundle("/downloads/toolchain.kpkg", bundleDatabaseDirectory)
	require.NoError(testInstance, bundleError)
	require.Equal(testInstance, []pkgdb.PackageMatch{
		{PackageID: firstID, RepositoryID: "toolchain.kpkg"},
		{PackageID: secondID, RepositoryID: "toolchain.kpkg"},
	}, matches)

	require.Equal(testInstance, []string{"toolchain.kpkg"}, fixture.service.Repositories())
	metadata, exists := fixture.settings.RepositoryMetadataByIdentifier("toolchain.kpkg")
	require.True(testInstance, exists)
	require.True(testInstance, metadata.SmartPackage)
	require.Equal(testInstance, "/downloads/toolchain.kpkg", metadata.PackagePath)

	// Dynamic repositories never reach the configuration file.
	persistedLines, loadError := fixture.persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Empty(testInstance, persistedLines)
}

// corruptedOpener fails every durable open so registry validation drops the
// repository it probes.
type corruptedOpener struct{}

func (corruptedOpener) OpenDurable(databaseFilePath string) (pkgdb.Repository, error) {
	return nil, pkgdb.ErrRepositoryCorrupted
}

func (corruptedOpener) OpenTemporary(identifier string) (pkgdb.Repository, error) {
	return pkgdb.OpenTemporary(identifier)
}

func TestAddPackageBundleRollsBackUnvalidatedBundle(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	service, serviceError := registry.NewService(registry.ServiceDependencies{
		Logger:            zap.NewNop(),
		Settings:          fixture.settings,
		Persistence:       fixture.persistence,
		Opener:            corruptedOpener{},
		InstalledDatabase: fixture.installedRepository,
	})
	require.NoError(testInstance, serviceError)

	bundleDatabaseDirectory := filepath.Join(testInstance.TempDir(), "extracted")
	bundleRepository, openError := pkgdb.OpenOrCreateDatabase(filepath.Join(bundleDatabaseDirectory, settings.DatabaseFileNameConstant))
	require.NoError(testInstance, openError)
	_, insertError := bundleRepository.InsertPackage(pkgdb.PackageRecord{
		Category: "app-misc", Name: "tool", Version: "1.0",
	})
	require.NoError(testInstance, insertError)
	require.NoError(testInstance, bundleRepository.Close())

	_, bundleError := service.AddPackageBundle("/downloads/doomed.kpkg", bundleDatabaseDirectory)
	require.Error(testInstance, bundleError)
	require.Contains(testInstance, bundleError.Error(), "failed validation")

	require.Empty(testInstance, service.Repositories())
	_, stillRegistered := fixture.settings.RepositoryMetadataByIdentifier("doomed.kpkg")
	require.False(testInstance, stillRegistered)
	require.NotContains(testInstance, fixture.settings.Order, "doomed.kpkg")
}

func TestAddPackageBundleRejectsEmptyBundle(testInstance *testing.T) {
	fixture := newRegistryFixture(testInstance)

	bundleDatabaseDirectory := filepath.Join(testInstance.TempDir(), "extracted")
	bundleRepository, openError := pkgdb.OpenOrCreateDatabase(filepath.Join(bundleDatabaseDirectory, settings.DatabaseFileNameConstant))
	require.NoError(testInstance, openError)
	require.NoError(testInstance, bundleRepository.Close())

	_, bundleError := fixture.service.AddPackageBundle("/downloads/empty.kpkg", bundleDatabaseDirectory)
	require.Error(testInstance, bundleError)
	require.Empty(testInstance, fixture.service.Repositories())
}
