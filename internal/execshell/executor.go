package execshell

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	shellInterpreterConstant              = "/bin/sh"
	commandStartedMessageConstant         = "external command started"
	commandCompletedMessageConstant       = "external command completed"
	commandFailedMessageConstant          = "external command failed"
	logFieldCommandConstant               = "command"
	logFieldArgumentsConstant             = "arguments"
	logFieldExitCodeConstant              = "exit_code"
	commandFailedErrorTemplateConstant    = "%s exited with code %d%s"
	commandExecutionErrorTemplateConstant = "%s could not run: %v"
	standardErrorSuffixTemplateConstant   = ": %s"
	argumentJoinSeparatorConstant         = " "
	systemRootSuffixConstant              = "/"
)

// ErrLoggerNotConfigured reports a ShellExecutor constructed without a logger.
var ErrLoggerNotConfigured = errors.New("shell executor requires a logger")

// ErrCommandRunnerNotConfigured reports a ShellExecutor constructed without a
// command runner.
var ErrCommandRunnerNotConfigured = errors.New("shell executor requires a command runner")

// CommandName identifies the executable invoked by a ShellCommand.
type CommandName string

// CommandShell is the interpreter running migration hook scripts.
const CommandShell CommandName = CommandName(shellInterpreterConstant)

// CommandDetails carries the invocation parameters of one external command.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
}

// ShellCommand pairs an executable name with its invocation details.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

func (command ShellCommand) label() string {
	if len(command.Details.Arguments) == 0 {
		return string(command.Name)
	}
	return string(command.Name) + argumentJoinSeparatorConstant +
		strings.Join(command.Details.Arguments, argumentJoinSeparatorConstant)
}

// ExecutionResult captures the outcome of one external command.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// CommandFailedError reports a command that ran and exited non-zero.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

// Error implements the error interface.
func (failure CommandFailedError) Error() string {
	standardErrorSuffix := ""
	if trimmedStandardError := strings.TrimSpace(failure.Result.StandardError); len(trimmedStandardError) > 0 {
		standardErrorSuffix = fmt.Sprintf(standardErrorSuffixTemplateConstant, trimmedStandardError)
	}
	return fmt.Sprintf(commandFailedErrorTemplateConstant, failure.Command.label(), failure.Result.ExitCode, standardErrorSuffix)
}

// CommandExecutionError reports a command that could not be started.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error implements the error interface.
func (failure CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionErrorTemplateConstant, failure.Command.label(), failure.Cause)
}

// Unwrap exposes the underlying cause.
func (failure CommandExecutionError) Unwrap() error {
	return failure.Cause
}
