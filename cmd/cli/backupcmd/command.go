package backupcmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/session"
)

const (
	groupUseConstant      = "backup"
	groupShortDescription = "Snapshot and restore the installed packages database"
	groupLongDescription  = "backup groups subcommands that create compressed snapshots of the installed packages database, restore them, and manage stored snapshots."

	createUseConstant       = "create"
	createShortDescription  = "Create a compressed snapshot of the installed packages database"
	restoreUseConstant      = "restore <backup-file>"
	restoreShortDescription = "Restore the installed packages database from a snapshot"
	listUseConstant         = "list"
	listShortDescription    = "List stored snapshots"
	removeUseConstant       = "remove <backup-file>"
	removeShortDescription  = "Delete a stored snapshot"

	destinationFlagNameConstant  = "dest"
	destinationFlagUsageConstant = "Directory receiving the snapshot (defaults to the database directory)"

	backupWrittenTemplateConstant  = "backup written to %s\n"
	backupRestoredTemplateConstant = "restored %s from %s\n"
	backupRemovedTemplateConstant  = "removed %s\n"
	backupListTemplateConstant     = "%s\n"
	noBackupsMessageConstant       = "no backups found\n"
	lockBusyMessageConstant        = "another kite instance holds the resource lock"
)

// LoggerProvider supplies the structured logger shared across commands.
type LoggerProvider func() *zap.Logger

// SessionProvider builds the orchestration session a command invocation owns.
type SessionProvider func() (*session.Session, error)

var errSessionProviderMissing = errors.New("session provider not configured")

// CommandGroupBuilder assembles the backup command group.
type CommandGroupBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the backup command hierarchy.
func (builder *CommandGroupBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   groupUseConstant,
		Short: groupShortDescription,
		Long:  groupLongDescription,
	}

	command.AddCommand(builder.buildCreate())
	command.AddCommand(builder.buildRestore())
	command.AddCommand(builder.buildList())
	command.AddCommand(builder.buildRemove())

	return command, nil
}

func (builder *CommandGroupBuilder) buildCreate() *cobra.Command {
	var destinationDirectory string

	command := &cobra.Command{
		Use:   createUseConstant,
		Short: createShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.withSession(true, func(activeSession *session.Session) error {
				backupPath, backupError := activeSession.Backups.BackupDatabase(activeSession.InstalledDatabasePath(), destinationDirectory)
				if backupError != nil {
					return backupError
				}
				fmt.Fprintf(command.OutOrStdout(), backupWrittenTemplateConstant, backupPath)
				return nil
			})
		},
	}

	command.Flags().StringVar(&destinationDirectory, destinationFlagNameConstant, "", destinationFlagUsageConstant)

	return command
}

func (builder *CommandGroupBuilder) buildRestore() *cobra.Command {
	return &cobra.Command{
		Use:   restoreUseConstant,
		Short: restoreShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			backupPath := arguments[0]
			return builder.withSession(true, func(activeSession *session.Session) error {
				databasePath := activeSession.InstalledDatabasePath()
				if restoreError := activeSession.Backups.RestoreDatabase(backupPath, databasePath); restoreError != nil {
					return restoreError
				}
				fmt.Fprintf(command.OutOrStdout(), backupRestoredTemplateConstant, databasePath, backupPath)
				return nil
			})
		},
	}
}

func (builder *CommandGroupBuilder) buildList() *cobra.Command {
	var sourceDirectory string

	command := &cobra.Command{
		Use:   listUseConstant,
		Short: listShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.withSession(false, func(activeSession *session.Session) error {
				directoryPath := sourceDirectory
				if directoryPath == "" {
					directoryPath = databaseDirectory(activeSession)
				}
				backupPaths, listError := activeSession.Backups.ListBackups(directoryPath)
				if listError != nil {
					return listError
				}
				if len(backupPaths) == 0 {
					fmt.Fprint(command.OutOrStdout(), noBackupsMessageConstant)
					return nil
				}
				for _, backupPath := range backupPaths {
					fmt.Fprintf(command.OutOrStdout(), backupListTemplateConstant, backupPath)
				}
				return nil
			})
		},
	}

	command.Flags().StringVar(&sourceDirectory, destinationFlagNameConstant, "", destinationFlagUsageConstant)

	return command
}

func (builder *CommandGroupBuilder) buildRemove() *cobra.Command {
	return &cobra.Command{
		Use:   removeUseConstant,
		Short: removeShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			backupPath := arguments[0]
			return builder.withSession(false, func(activeSession *session.Session) error {
				if removeError := activeSession.Backups.RemoveBackup(backupPath); removeError != nil {
					return removeError
				}
				fmt.Fprintf(command.OutOrStdout(), backupRemovedTemplateConstant, backupPath)
				return nil
			})
		},
	}
}

func (builder *CommandGroupBuilder) withSession(locked bool, operation func(activeSession *session.Session) error) error {
	if builder.SessionProvider == nil {
		return errSessionProviderMissing
	}
	activeSession, sessionError := builder.SessionProvider()
	if sessionError != nil {
		return sessionError
	}
	defer activeSession.Close()

	if locked {
		lockAcquired, lockError := activeSession.Lock.Acquire()
		if lockError != nil {
			return lockError
		}
		if !lockAcquired {
			return errors.New(lockBusyMessageConstant)
		}
		defer activeSession.Lock.Release()
	}

	return operation(activeSession)
}

func databaseDirectory(activeSession *session.Session) string {
	return filepath.Dir(activeSession.InstalledDatabasePath())
}
