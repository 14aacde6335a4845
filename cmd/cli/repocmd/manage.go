package repocmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kitepkg/kite/internal/session"
	"github.com/kitepkg/kite/internal/settings"
	"github.com/kitepkg/kite/internal/utils/flags"
)

const (
	addUseConstant                = "add <identifier>"
	addShortDescription           = "Add or overwrite a configured repository"
	addLongDescription            = "add persists a repository entry to the configuration file and revalidates the registry."
	addDescriptionFlagName        = "description"
	addDescriptionFlagUsage       = "Human readable repository description"
	addMirrorFlagName             = "mirror"
	addMirrorFlagUsage            = "Package mirror URL (repeatable)"
	addDatabaseURLFlagName        = "db-url"
	addDatabaseURLFlagUsage       = "Repository database download URL"
	addDatabaseFormatFlagName     = "db-format"
	addDatabaseFormatFlagUsage    = "Repository database compression format"
	addServicePortFlagName        = "port"
	addServicePortFlagUsage       = "Repository service port"
	addSSLServicePortFlagName     = "ssl-port"
	addSSLServicePortFlagUsage    = "Repository SSL service port"
	defaultDatabaseFormatConstant = "bz2"
	defaultServicePortConstant    = 1026
	defaultSSLServicePortConstant = 1027

	removeUseConstant        = "remove <identifier>"
	removeShortDescription   = "Remove a configured repository"
	removeLongDescription    = "remove deletes a repository entry, its cached connection, and any in-memory database handle."
	removeDisableFlagName    = "disable"
	removeDisableFlagUsage   = "Comment the entry out instead of deleting it"
	enableUseConstant        = "enable <identifier>"
	enableShortDescription   = "Enable a disabled repository"
	disableUseConstant       = "disable <identifier>"
	disableShortDescription  = "Disable a repository without deleting its entry"
	shiftUseConstant         = "shift <identifier> <position>"
	shiftShortDescription    = "Move a repository to a new priority position"
	shiftPositionErrorFormat = "invalid priority position %q: %w"

	repositoryChangedTemplateConstant = "repository %s %s\n"
	actionAddedConstant               = "added"
	actionRemovedConstant             = "removed"
	actionEnabledConstant             = "enabled"
	actionDisabledConstant            = "disabled"
	actionShiftedConstant             = "shifted"
)

// AddCommandBuilder assembles the repo add command.
type AddCommandBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the repo add command.
func (builder *AddCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   addUseConstant,
		Short: addShortDescription,
		Long:  addLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE:  builder.run,
	}

	command.Flags().String(addDescriptionFlagName, "", addDescriptionFlagUsage)
	command.Flags().StringSlice(addMirrorFlagName, nil, addMirrorFlagUsage)
	command.Flags().String(addDatabaseURLFlagName, "", addDatabaseURLFlagUsage)
	command.Flags().String(addDatabaseFormatFlagName, defaultDatabaseFormatConstant, addDatabaseFormatFlagUsage)
	command.Flags().Int(addServicePortFlagName, defaultServicePortConstant, addServicePortFlagUsage)
	command.Flags().Int(addSSLServicePortFlagName, defaultSSLServicePortConstant, addSSLServicePortFlagUsage)

	return command, nil
}

func (builder *AddCommandBuilder) run(command *cobra.Command, arguments []string) error {
	identifier := arguments[0]
	description, _ := command.Flags().GetString(addDescriptionFlagName)
	mirrors, _ := command.Flags().GetStringSlice(addMirrorFlagName)
	databaseURL, _ := command.Flags().GetString(addDatabaseURLFlagName)
	databaseFormat, _ := command.Flags().GetString(addDatabaseFormatFlagName)
	servicePort, _ := command.Flags().GetInt(addServicePortFlagName)
	sslServicePort, _ := command.Flags().GetInt(addSSLServicePortFlagName)

	return withLockedSession(builder.SessionProvider, func(activeSession *session.Session) error {
		metadata := &settings.RepositoryMetadata{
			Identifier:     identifier,
			Description:    description,
			Mirrors:        mirrors,
			DatabaseURL:    databaseURL,
			DatabaseFormat: databaseFormat,
			ServicePort:    servicePort,
			SSLServicePort: sslServicePort,
		}
		if addError := activeSession.Registry.AddRepository(metadata); addError != nil {
			return addError
		}
		fmt.Fprintf(command.OutOrStdout(), repositoryChangedTemplateConstant, identifier, actionAddedConstant)
		return nil
	})
}

// RemoveCommandBuilder assembles the repo remove command.
type RemoveCommandBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the repo remove command.
func (builder *RemoveCommandBuilder) Build() (*cobra.Command, error) {
	var disableInsteadOfDelete bool

	command := &cobra.Command{
		Use:   removeUseConstant,
		Short: removeShortDescription,
		Long:  removeLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			identifier := arguments[0]
			return withLockedSession(builder.SessionProvider, func(activeSession *session.Session) error {
				if removeError := activeSession.Registry.RemoveRepository(identifier, disableInsteadOfDelete); removeError != nil {
					return removeError
				}
				fmt.Fprintf(command.OutOrStdout(), repositoryChangedTemplateConstant, identifier, actionRemovedConstant)
				return nil
			})
		},
	}

	flags.AddToggleFlag(command.Flags(), &disableInsteadOfDelete, removeDisableFlagName, "", false, removeDisableFlagUsage)

	return command, nil
}

// ToggleCommandBuilder assembles the repo enable and repo disable commands.
type ToggleCommandBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
	Enable          bool
}

// Build constructs the enable or disable command.
func (builder *ToggleCommandBuilder) Build() (*cobra.Command, error) {
	useLine, shortDescription, action := disableUseConstant, disableShortDescription, actionDisabledConstant
	if builder.Enable {
		useLine, shortDescription, action = enableUseConstant, enableShortDescription, actionEnabledConstant
	}

	command := &cobra.Command{
		Use:   useLine,
		Short: shortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			identifier := arguments[0]
			return withLockedSession(builder.SessionProvider, func(activeSession *session.Session) error {
				var toggleError error
				if builder.Enable {
					toggleError = activeSession.Registry.EnableRepository(identifier)
				} else {
					toggleError = activeSession.Registry.DisableRepository(identifier)
				}
				if toggleError != nil {
					return toggleError
				}
				fmt.Fprintf(command.OutOrStdout(), repositoryChangedTemplateConstant, identifier, action)
				return nil
			})
		},
	}

	return command, nil
}

// ShiftCommandBuilder assembles the repo shift command.
type ShiftCommandBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the repo shift command.
func (builder *ShiftCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   shiftUseConstant,
		Short: shiftShortDescription,
		Args:  cobra.ExactArgs(2),
		RunE: func(command *cobra.Command, arguments []string) error {
			identifier := arguments[0]
			newPosition, parseError := strconv.Atoi(arguments[1])
			if parseError != nil {
				return fmt.Errorf(shiftPositionErrorFormat, arguments[1], parseError)
			}
			return withLockedSession(builder.SessionProvider, func(activeSession *session.Session) error {
				if shiftError := activeSession.Registry.ShiftRepository(identifier, newPosition); shiftError != nil {
					return shiftError
				}
				fmt.Fprintf(command.OutOrStdout(), repositoryChangedTemplateConstant, identifier, actionShiftedConstant)
				return nil
			})
		},
	}

	return command, nil
}
