package maskcmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitepkg/kite/internal/match"
	"github.com/kitepkg/kite/internal/session"
	"github.com/kitepkg/kite/internal/utils/flags"
)

const (
	groupUseConstant      = "mask"
	groupShortDescription = "Manage package masking state"
	groupLongDescription  = "mask groups subcommands that hide packages from resolution, reveal them again, and report their visibility."

	addUseConstant         = "add <atom>"
	addShortDescription    = "Mask a package"
	removeUseConstant      = "remove <atom>"
	removeShortDescription = "Unmask a package"
	clearUseConstant       = "clear <atom>"
	clearShortDescription  = "Drop a package from both mask files"
	showUseConstant        = "show <atom>"
	showShortDescription   = "Report a package's masking verdict"

	methodFlagNameConstant     = "method"
	methodFlagDescription      = "mask entry form"
	methodAtomLiteralConstant  = "atom"
	methodKeySlotLiteral       = "keyslot"
	dryRunFlagNameConstant     = "dry-run"
	dryRunFlagUsageConstant    = "Update only the in-process overlay, leaving the mask files untouched"
	unknownMethodErrorTemplate = "unsupported mask method %q"

	maskChangedTemplateConstant = "package %s %s\n"
	actionMaskedConstant        = "masked"
	actionUnmaskedConstant      = "unmasked"
	actionClearedConstant       = "cleared"
	showMaskedTemplateConstant  = "%s: masked (%s)\n"
	showVisibleTemplateConstant = "%s: visible\n"
)

// CommandGroupBuilder assembles the mask command group.
type CommandGroupBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the mask command hierarchy.
func (builder *CommandGroupBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   groupUseConstant,
		Short: groupShortDescription,
		Long:  groupLongDescription,
	}

	command.AddCommand(builder.buildMutation(addUseConstant, addShortDescription, actionMaskedConstant))
	command.AddCommand(builder.buildMutation(removeUseConstant, removeShortDescription, actionUnmaskedConstant))
	command.AddCommand(builder.buildMutation(clearUseConstant, clearShortDescription, actionClearedConstant))
	command.AddCommand(builder.buildShow())

	return command, nil
}

func (builder *CommandGroupBuilder) buildMutation(useLine string, shortDescription string, action string) *cobra.Command {
	var methodValue string

	command := &cobra.Command{
		Use:   useLine,
		Short: shortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			atom := arguments[0]
			maskMethod, methodError := parseMethod(methodValue)
			if methodError != nil {
				return methodError
			}
			dryRun, dryRunError := command.Flags().GetBool(dryRunFlagNameConstant)
			if dryRunError != nil {
				return dryRunError
			}
			return withLockedSession(builder.SessionProvider, func(activeSession *session.Session) error {
				packageMatch, resolveError := resolveAtom(activeSession, atom)
				if resolveError != nil {
					return resolveError
				}

				var mutationError error
				switch action {
				case actionMaskedConstant:
					mutationError = activeSession.Matcher.Mask(packageMatch, maskMethod, dryRun)
				case actionUnmaskedConstant:
					mutationError = activeSession.Matcher.Unmask(packageMatch, maskMethod, dryRun)
				default:
					mutationError = activeSession.Matcher.ClearMaskState(packageMatch, dryRun)
				}
				if mutationError != nil {
					return mutationError
				}

				fmt.Fprintf(command.OutOrStdout(), maskChangedTemplateConstant, atom, action)
				return nil
			})
		},
	}

	methodUsage := flags.FormatChoiceUsage(methodAtomLiteralConstant,
		[]string{methodAtomLiteralConstant, methodKeySlotLiteral}, methodFlagDescription)
	command.Flags().StringVar(&methodValue, methodFlagNameConstant, methodAtomLiteralConstant, methodUsage)
	flags.BindExecutionFlags(command, flags.ExecutionDefaults{}, flags.ExecutionFlagDefinitions{
		DryRun: flags.ExecutionFlagDefinition{
			Name:    dryRunFlagNameConstant,
			Usage:   dryRunFlagUsageConstant,
			Enabled: true,
		},
	})

	return command
}

func (builder *CommandGroupBuilder) buildShow() *cobra.Command {
	return &cobra.Command{
		Use:   showUseConstant,
		Short: showShortDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			atom := arguments[0]
			return withSession(builder.SessionProvider, func(activeSession *session.Session) error {
				packageMatch, resolveError := resolveAtom(activeSession, atom)
				if resolveError != nil {
					return resolveError
				}

				maskReason, reasonError := activeSession.Matcher.MaskReason(packageMatch, true)
				if reasonError != nil {
					return reasonError
				}
				masked, maskedError := activeSession.Matcher.IsMasked(packageMatch, true)
				if maskedError != nil {
					return maskedError
				}

				if masked {
					fmt.Fprintf(command.OutOrStdout(), showMaskedTemplateConstant, atom, maskReason.Description())
					return nil
				}
				fmt.Fprintf(command.OutOrStdout(), showVisibleTemplateConstant, atom)
				return nil
			})
		},
	}
}

func parseMethod(methodValue string) (match.Method, error) {
	switch strings.ToLower(strings.TrimSpace(methodValue)) {
	case methodAtomLiteralConstant, "":
		return match.MethodAtom, nil
	case methodKeySlotLiteral:
		return match.MethodKeySlot, nil
	default:
		return match.MethodAtom, fmt.Errorf(unknownMethodErrorTemplate, methodValue)
	}
}
