package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/backup"
	"github.com/kitepkg/kite/internal/branchhooks"
	"github.com/kitepkg/kite/internal/execshell"
	"github.com/kitepkg/kite/internal/match"
	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/registry"
	"github.com/kitepkg/kite/internal/repoconf"
	"github.com/kitepkg/kite/internal/resourcelock"
	"github.com/kitepkg/kite/internal/settings"
)

// Options configures a Session.
type Options struct {
	Logger                *zap.Logger
	SettingsOptions       settings.Options
	InstalledDatabasePath string
	PIDFilePath           string
	SyncHook              registry.PackageSourceSyncHook
	ResultCaches          registry.ResultCacheInvalidator
	PrivilegeChecker      func() bool
}

// Session owns the orchestration state of one kite invocation. It carries no
// internal locking; callers hold the resource lock across mutating
// sequences.
type Session struct {
	Logger   *zap.Logger
	Settings *settings.SystemSettings
	Registry *registry.Service
	Lock     *resourcelock.Manager
	Hooks    *branchhooks.Service
	Matcher  *match.Engine
	Backups  *backup.Service
	Shell    *execshell.ShellExecutor

	installedDatabase     pkgdb.Repository
	installedDatabasePath string
}

var errMissingLogger = errors.New("session requires a logger")

// New opens the installed packages database, loads settings, and wires every
// orchestration service. The registry revalidates automatically whenever
// settings reload.
func New(options Options) (*Session, error) {
	if options.Logger == nil {
		return nil, errMissingLogger
	}

	systemSettings, settingsError := settings.New(options.SettingsOptions)
	if settingsError != nil {
		return nil, settingsError
	}

	installedDatabase, installedError := pkgdb.OpenOrCreateDatabase(options.InstalledDatabasePath)
	if installedError != nil {
		return nil, installedError
	}

	registryService, registryError := registry.NewService(registry.ServiceDependencies{
		Logger:            options.Logger,
		Settings:          systemSettings,
		Persistence:       repoconf.NewPersistence(systemSettings.ConfigurationPath),
		Opener:            registry.NewSQLiteDatabaseOpener(),
		InstalledDatabase: installedDatabase,
		SyncHook:          options.SyncHook,
		ResultCaches:      options.ResultCaches,
		PrivilegeChecker:  options.PrivilegeChecker,
	})
	if registryError != nil {
		installedDatabase.Close()
		return nil, registryError
	}

	shellExecutor, shellError := execshell.NewShellExecutor(options.Logger, execshell.NewOSCommandRunner())
	if shellError != nil {
		installedDatabase.Close()
		return nil, shellError
	}

	hookRunner, hooksError := branchhooks.NewService(branchhooks.ServiceDependencies{
		Logger:              options.Logger,
		Settings:            systemSettings,
		Executor:            shellExecutor,
		InstalledDatabase:   installedDatabase,
		EnabledRepositories: registryService.Repositories,
	})
	if hooksError != nil {
		installedDatabase.Close()
		return nil, hooksError
	}

	resolutionEngine, engineError := match.NewEngine(match.EngineDependencies{
		Logger:                options.Logger,
		Settings:              systemSettings,
		Resolver:              registryService,
		InstalledDatabase:     installedDatabase,
		InstalledRepositoryID: registry.InstalledRepositoryID,
	})
	if engineError != nil {
		installedDatabase.Close()
		return nil, engineError
	}

	backupService, backupError := backup.NewService(backup.ServiceDependencies{Logger: options.Logger})
	if backupError != nil {
		installedDatabase.Close()
		return nil, backupError
	}

	registryService.SetMaskValidatorProvider(resolutionEngine.PackageValidatorFor)

	systemSettings.RegisterChangeHook(func() {
		registryService.ValidateRepositories(true)
	})
	registryService.ValidateRepositories(false)

	return &Session{
		Logger:                options.Logger,
		Settings:              systemSettings,
		Registry:              registryService,
		Lock:                  resourcelock.NewManager(options.PIDFilePath, options.Logger),
		Hooks:                 hookRunner,
		Matcher:               resolutionEngine,
		Backups:               backupService,
		Shell:                 shellExecutor,
		installedDatabase:     installedDatabase,
		installedDatabasePath: options.InstalledDatabasePath,
	}, nil
}

// InstalledDatabase exposes the installed packages database handle.
func (activeSession *Session) InstalledDatabase() pkgdb.Repository {
	return activeSession.installedDatabase
}

// InstalledDatabasePath returns the on-disk location of the installed
// packages database.
func (activeSession *Session) InstalledDatabasePath() string {
	return activeSession.installedDatabasePath
}

// Close flushes the connection cache, releases every held lock level, and
// closes the installed packages database.
func (activeSession *Session) Close() error {
	activeSession.Registry.CloseAllRepositories(false)
	for activeSession.Lock.HeldCount() > 0 {
		activeSession.Lock.Release()
	}
	return activeSession.installedDatabase.Close()
}
