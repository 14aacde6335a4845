package repocmd

import "github.com/spf13/cobra"

const (
	groupUseConstant      = "repo"
	groupShortDescription = "Manage configured package repositories"
	groupLongDescription  = "repo groups subcommands that add, remove, toggle, reorder, and list configured package repositories."
)

// CommandGroupBuilder assembles the repo command group.
type CommandGroupBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the repo command hierarchy.
func (builder *CommandGroupBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   groupUseConstant,
		Short: groupShortDescription,
		Long:  groupLongDescription,
	}

	listBuilder := ListCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider}
	if listCommand, listError := listBuilder.Build(); listError == nil {
		command.AddCommand(listCommand)
	}

	addBuilder := AddCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider}
	if addCommand, addError := addBuilder.Build(); addError == nil {
		command.AddCommand(addCommand)
	}

	removeBuilder := RemoveCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider}
	if removeCommand, removeError := removeBuilder.Build(); removeError == nil {
		command.AddCommand(removeCommand)
	}

	enableBuilder := ToggleCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider, Enable: true}
	if enableCommand, enableError := enableBuilder.Build(); enableError == nil {
		command.AddCommand(enableCommand)
	}

	disableBuilder := ToggleCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider, Enable: false}
	if disableCommand, disableError := disableBuilder.Build(); disableError == nil {
		command.AddCommand(disableCommand)
	}

	shiftBuilder := ShiftCommandBuilder{LoggerProvider: builder.LoggerProvider, SessionProvider: builder.SessionProvider}
	if shiftCommand, shiftError := shiftBuilder.Build(); shiftError == nil {
		command.AddCommand(shiftCommand)
	}

	return command, nil
}
