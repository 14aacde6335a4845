package hookscmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/branchhooks"
	"github.com/kitepkg/kite/internal/session"
	"github.com/kitepkg/kite/internal/utils/flags"
)

const (
	groupUseConstant      = "hooks"
	groupShortDescription = "Run branch migration hook scripts"
	groupLongDescription  = "hooks groups the post-branch-switch and post-branch-upgrade hook runners. Runs are idempotent per script content."

	postSwitchUseConstant       = "post-switch"
	postSwitchShortDescription  = "Run post-branch-switch hooks for a branch migration"
	postUpgradeUseConstant      = "post-upgrade"
	postUpgradeShortDescription = "Run post-branch-upgrade hooks re-armed by an earlier branch switch"

	fromBranchFlagNameConstant  = "from"
	fromBranchFlagUsageConstant = "Branch the system migrated away from"
	toBranchFlagNameConstant    = "to"
	toBranchFlagUsageConstant   = "Destination branch (defaults to the configured branch)"
	pretendFlagNameConstant     = "pretend"
	pretendFlagUsageConstant    = "List pending hook runs without executing anything"

	fromBranchRequiredMessageConstant = "the --from branch is required"
	executionLineTemplateConstant     = "%s: %s (%s -> %s)\n"
	nothingToRunMessageConstant       = "no hook scripts pending\n"
	lockBusyMessageConstant           = "another kite instance holds the resource lock"
)

// LoggerProvider supplies the structured logger shared across commands.
type LoggerProvider func() *zap.Logger

// SessionProvider builds the orchestration session a command invocation owns.
type SessionProvider func() (*session.Session, error)

var errSessionProviderMissing = errors.New("session provider not configured")

// CommandGroupBuilder assembles the hooks command group.
type CommandGroupBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the hooks command hierarchy.
func (builder *CommandGroupBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   groupUseConstant,
		Short: groupShortDescription,
		Long:  groupLongDescription,
	}

	command.AddCommand(builder.buildPostSwitch())
	command.AddCommand(builder.buildPostUpgrade())

	return command, nil
}

func (builder *CommandGroupBuilder) buildPostSwitch() *cobra.Command {
	var fromBranch string
	var toBranch string

	command := &cobra.Command{
		Use:   postSwitchUseConstant,
		Short: postSwitchShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			if fromBranch == "" {
				return errors.New(fromBranchRequiredMessageConstant)
			}
			return builder.withLockedSession(func(activeSession *session.Session) error {
				destinationBranch := toBranch
				if destinationBranch == "" {
					destinationBranch = activeSession.Settings.Branch
				}

				executions, runError := activeSession.Hooks.RunPostBranchSwitchHooks(command.Context(), fromBranch, destinationBranch)
				printExecutions(command, executions, "executed")
				return runError
			})
		},
	}

	command.Flags().StringVar(&fromBranch, fromBranchFlagNameConstant, "", fromBranchFlagUsageConstant)
	command.Flags().StringVar(&toBranch, toBranchFlagNameConstant, "", toBranchFlagUsageConstant)

	return command
}

func (builder *CommandGroupBuilder) buildPostUpgrade() *cobra.Command {
	var toBranch string

	command := &cobra.Command{
		Use:   postUpgradeUseConstant,
		Short: postUpgradeShortDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			pretend, pretendError := command.Flags().GetBool(pretendFlagNameConstant)
			if pretendError != nil {
				return pretendError
			}
			return builder.withLockedSession(func(activeSession *session.Session) error {
				destinationBranch := toBranch
				if destinationBranch == "" {
					destinationBranch = activeSession.Settings.Branch
				}

				executions, runError := activeSession.Hooks.RunPostBranchUpgradeHooks(command.Context(), destinationBranch, pretend)
				verb := "executed"
				if pretend {
					verb = "pending"
				}
				printExecutions(command, executions, verb)
				return runError
			})
		},
	}

	command.Flags().StringVar(&toBranch, toBranchFlagNameConstant, "", toBranchFlagUsageConstant)
	flags.BindExecutionFlags(command, flags.ExecutionDefaults{}, flags.ExecutionFlagDefinitions{
		Pretend: flags.ExecutionFlagDefinition{
			Name:    pretendFlagNameConstant,
			Usage:   pretendFlagUsageConstant,
			Enabled: true,
		},
	})

	return command
}

func (builder *CommandGroupBuilder) withLockedSession(operation func(activeSession *session.Session) error) error {
	if builder.SessionProvider == nil {
		return errSessionProviderMissing
	}
	activeSession, sessionError := builder.SessionProvider()
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

func printExecutions(command *cobra.Command, executions []branchhooks.HookExecution, verb string) {
	if len(executions) == 0 {
		fmt.Fprint(command.OutOrStdout(), nothingToRunMessageConstant)
		return
	}
	for _, execution := range executions {
		fmt.Fprintf(command.OutOrStdout(), executionLineTemplateConstant,
			verb, execution.RepositoryID, execution.FromBranch, execution.ToBranch)
	}
}
