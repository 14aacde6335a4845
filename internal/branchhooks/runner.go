package branchhooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/execshell"
	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/settings"
)

const (
	logFieldRepositoryConstant = "repository"
	logFieldScriptConstant     = "script"
	logFieldFromBranchConstant = "from_branch"
	logFieldToBranchConstant   = "to_branch"

	hookAlreadyExecutedMessageConstant  = "branch hook already executed for this script content, skipping"
	hookScriptMissingMessageConstant    = "branch hook script not present, skipping"
	hookExecutionStartedMessageConstant = "running branch hook script"
	hookExecutionFailedMessageConstant  = "branch hook script failed"
	recordWriteFailedTemplateConstant   = "unable to record branch migration for %s: %w"
)

// HookExecutor runs one migration hook script.
type HookExecutor interface {
	ExecuteHookScript(executionContext context.Context, scriptPath string, repositoryID string, systemRoot string, fromBranch string, toBranch string) (execshell.ExecutionResult, error)
}

// HookExecution describes one script invocation the runner performed or, in
// pretend mode, would perform.
type HookExecution struct {
	RepositoryID string
	ScriptPath   string
	FromBranch   string
	ToBranch     string
}

// ServiceDependencies enumerates the collaborators required by the runner.
// EnabledRepositories supplies the validated enabled identifiers consulted by
// the upgrade stage; repositories dropped by registry validation never run
// upgrade hooks.
type ServiceDependencies struct {
	Logger              *zap.Logger
	Settings            *settings.SystemSettings
	Executor            HookExecutor
	InstalledDatabase   pkgdb.Repository
	EnabledRepositories func() []string
}

// Service coordinates post-branch-switch and post-branch-upgrade hook runs.
type Service struct {
	logger              *zap.Logger
	settings            *settings.SystemSettings
	executor            HookExecutor
	installedDatabase   pkgdb.Repository
	enabledRepositories func() []string
}

var (
	errMissingLogger    = errors.New("branch hook runner requires a logger")
	errMissingSettings  = errors.New("branch hook runner requires system settings")
	errMissingExecutor  = errors.New("branch hook runner requires a hook executor")
	errMissingInstalled = errors.New("branch hook runner requires the installed packages database")
	errMissingEnabled   = errors.New("branch hook runner requires an enabled repositories provider")
)

// NewService validates dependencies and constructs the hook runner.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, errMissingLogger
	}
	if dependencies.Settings == nil {
		return nil, errMissingSettings
	}
	if dependencies.Executor == nil {
		return nil, errMissingExecutor
	}
	if dependencies.InstalledDatabase == nil {
		return nil, errMissingInstalled
	}
	if dependencies.EnabledRepositories == nil {
		return nil, errMissingEnabled
	}
	return &Service{
		logger:              dependencies.Logger,
		settings:            dependencies.Settings,
		executor:            dependencies.Executor,
		installedDatabase:   dependencies.InstalledDatabase,
		enabledRepositories: dependencies.EnabledRepositories,
	}, nil
}

// RunPostBranchSwitchHooks runs every repository's post-branch-switch script
// for the given migration. An absent or unreadable script checksums to the
// pending sentinel, so the migration record is still refreshed. A checksum
// equal to the recorded post-migration checksum is a pure skip. The record is
// overwritten with the fresh checksum and the pending post-upgrade sentinel
// even when the script exits non-zero, re-arming the upgrade stage; a fixed
// script changes the checksum and runs again. Failures are aggregated and
// remaining repositories still run.
func (service *Service) RunPostBranchSwitchHooks(executionContext context.Context, fromBranch string, toBranch string) ([]HookExecution, error) {
	var executions []HookExecution
	var failures []error

	for _, repositoryID := range service.hookRepositoryIDs() {
		metadata := service.repositoryMetadata(repositoryID)
		if metadata == nil {
			continue
		}
		scriptPath := metadata.PostBranchSwitchScript
		scriptChecksum := readScriptChecksum(scriptPath)

		storedChecksums, recordExists, lookupError := service.installedDatabase.BranchMigrationChecksums(repositoryID, fromBranch, toBranch)
		if lookupError != nil {
			failures = append(failures, lookupError)
			continue
		}
		if recordExists && storedChecksums.PostMigrationChecksum == scriptChecksum {
			service.logger.Debug(hookAlreadyExecutedMessageConstant,
				zap.String(logFieldRepositoryConstant, repositoryID),
				zap.String(logFieldScriptConstant, scriptPath))
			continue
		}

		if scriptChecksum == PendingChecksumConstant {
			service.logger.Debug(hookScriptMissingMessageConstant,
				zap.String(logFieldRepositoryConstant, repositoryID),
				zap.String(logFieldScriptConstant, scriptPath))
		} else {
			service.logger.Info(hookExecutionStartedMessageConstant,
				zap.String(logFieldRepositoryConstant, repositoryID),
				zap.String(logFieldScriptConstant, scriptPath),
				zap.String(logFieldFromBranchConstant, fromBranch),
				zap.String(logFieldToBranchConstant, toBranch))

			_, executionError := service.executor.ExecuteHookScript(executionContext, scriptPath, repositoryID, service.settings.SystemRoot, fromBranch, toBranch)
			if executionError != nil {
				service.logger.Warn(hookExecutionFailedMessageConstant,
					zap.String(logFieldRepositoryConstant, repositoryID),
					zap.String(logFieldScriptConstant, scriptPath),
					zap.Error(executionError))
				failures = append(failures, executionError)
			}
		}

		recordError := service.installedDatabase.RecordBranchMigration(repositoryID, fromBranch, toBranch, scriptChecksum, PendingChecksumConstant)
		if recordError != nil {
			failures = append(failures, fmt.Errorf(recordWriteFailedTemplateConstant, repositoryID, recordError))
			continue
		}

		executions = append(executions, HookExecution{
			RepositoryID: repositoryID,
			ScriptPath:   scriptPath,
			FromBranch:   fromBranch,
			ToBranch:     toBranch,
		})
	}

	return executions, errors.Join(failures...)
}

// RunPostBranchUpgradeHooks runs every enabled repository's
// post-branch-upgrade script once per recorded source branch of the target
// branch. Records whose post-upgrade checksum already equals the script
// checksum are skipped; every other recorded source branch is visited on
// every run. The checksum is persisted even when the script exits non-zero,
// so a rerun happens only after the script content changes. In pretend mode
// the pending executions are reported without running anything or touching
// records.
func (service *Service) RunPostBranchUpgradeHooks(executionContext context.Context, toBranch string, pretend bool) ([]HookExecution, error) {
	var executions []HookExecution
	var failures []error

	migrationRecords, recordsError := service.installedDatabase.BranchMigrationRecords(toBranch)
	if recordsError != nil {
		return nil, recordsError
	}

	for _, repositoryID := range service.enabledRepositories() {
		metadata, available := service.settings.Available[repositoryID]
		if !available {
			continue
		}
		scriptPath := metadata.PostBranchUpgradeScript
		scriptChecksum := readScriptChecksum(scriptPath)
		if scriptChecksum == PendingChecksumConstant {
			service.logger.Debug(hookScriptMissingMessageConstant,
				zap.String(logFieldRepositoryConstant, repositoryID),
				zap.String(logFieldScriptConstant, scriptPath))
			continue
		}

		for _, fromBranch := range sortedFromBranches(migrationRecords[repositoryID]) {
			storedChecksums := migrationRecords[repositoryID][fromBranch]
			if storedChecksums.PostUpgradeChecksum == scriptChecksum {
				service.logger.Debug(hookAlreadyExecutedMessageConstant,
					zap.String(logFieldRepositoryConstant, repositoryID),
					zap.String(logFieldScriptConstant, scriptPath))
				continue
			}

			execution := HookExecution{
				RepositoryID: repositoryID,
				ScriptPath:   scriptPath,
				FromBranch:   fromBranch,
				ToBranch:     toBranch,
			}
			if pretend {
				executions = append(executions, execution)
				continue
			}

			service.logger.Info(hookExecutionStartedMessageConstant,
				zap.String(logFieldRepositoryConstant, repositoryID),
				zap.String(logFieldScriptConstant, scriptPath),
				zap.String(logFieldFromBranchConstant, fromBranch),
				zap.String(logFieldToBranchConstant, toBranch))

			_, executionError := service.executor.ExecuteHookScript(executionContext, scriptPath, repositoryID, service.settings.SystemRoot, fromBranch, toBranch)
			if executionError != nil {
				service.logger.Warn(hookExecutionFailedMessageConstant,
					zap.String(logFieldRepositoryConstant, repositoryID),
					zap.String(logFieldScriptConstant, scriptPath),
					zap.Error(executionError))
				failures = append(failures, executionError)
			}

			updateError := service.installedDatabase.SetBranchMigrationPostUpgradeChecksum(repositoryID, fromBranch, toBranch, scriptChecksum)
			if updateError != nil {
				failures = append(failures, fmt.Errorf(recordWriteFailedTemplateConstant, repositoryID, updateError))
				continue
			}

			executions = append(executions, execution)
		}
	}

	return executions, errors.Join(failures...)
}

// hookRepositoryIDs returns the sorted union of available and excluded
// repository identifiers. Excluded repositories still carry hook scripts.
func (service *Service) hookRepositoryIDs() []string {
	identifierSet := map[string]struct{}{}
	for identifier := range service.settings.Available {
		identifierSet[identifier] = struct{}{}
	}
	for identifier := range service.settings.Excluded {
		identifierSet[identifier] = struct{}{}
	}

	identifiers := make([]string, 0, len(identifierSet))
	for identifier := range identifierSet {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)
	return identifiers
}

func (service *Service) repositoryMetadata(identifier string) *settings.RepositoryMetadata {
	if metadata, exists := service.settings.Available[identifier]; exists {
		return metadata
	}
	if metadata, exists := service.settings.Excluded[identifier]; exists {
		return metadata
	}
	return nil
}

func sortedFromBranches(records map[string]pkgdb.BranchMigrationChecksums) []string {
	fromBranches := make([]string, 0, len(records))
	for fromBranch := range records {
		fromBranches = append(fromBranches, fromBranch)
	}
	sort.Strings(fromBranches)
	return fromBranches
}

func scriptExists(scriptPath string) bool {
	if scriptPath == "" {
		return false
	}
	fileInformation, statError := os.Stat(scriptPath)
	return statError == nil && !fileInformation.IsDir()
}

// readScriptChecksum returns the script digest, or the pending sentinel when
// the script is absent or unreadable.
func readScriptChecksum(scriptPath string) string {
	if !scriptExists(scriptPath) {
		return PendingChecksumConstant
	}
	checksum, checksumError := computeScriptChecksum(scriptPath)
	if checksumError != nil {
		return PendingChecksumConstant
	}
	return checksum
}
