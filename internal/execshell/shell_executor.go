package execshell

import (
	"context"

	"go.uber.org/zap"
)

// ShellExecutor runs external commands through a CommandRunner while logging
// lifecycle events and notifying an optional observer.
type ShellExecutor struct {
	logger   *zap.Logger
	runner   CommandRunner
	observer CommandEventObserver
}

// NewShellExecutor validates dependencies and constructs a ShellExecutor.
func NewShellExecutor(logger *zap.Logger, runner CommandRunner) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if runner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{logger: logger, runner: runner, observer: noopCommandEventObserver{}}, nil
}

// SetCommandEventObserver installs an observer receiving command lifecycle
// notifications. A nil observer restores the no-op observer.
func (executor *ShellExecutor) SetCommandEventObserver(observer CommandEventObserver) {
	if observer == nil {
		executor.observer = noopCommandEventObserver{}
		return
	}
	executor.observer = observer
}

// Execute runs one command. A non-zero exit yields the result alongside a
// CommandFailedError; a command that could not run yields a
// CommandExecutionError.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executor.observer.CommandStarted(command)
	executor.logger.Debug(commandStartedMessageConstant,
		zap.String(logFieldCommandConstant, string(command.Name)),
		zap.Strings(logFieldArgumentsConstant, command.Details.Arguments))

	executionResult, runError := executor.runner.Run(executionContext, command)
	if runError != nil {
		executionFailure := CommandExecutionError{Command: command, Cause: runError}
		executor.observer.CommandExecutionFailed(command, executionFailure)
		executor.logger.Warn(commandFailedMessageConstant,
			zap.String(logFieldCommandConstant, string(command.Name)),
			zap.Error(executionFailure))
		return ExecutionResult{}, executionFailure
	}

	executor.observer.CommandCompleted(command, executionResult)
	executor.logger.Debug(commandCompletedMessageConstant,
		zap.String(logFieldCommandConstant, string(command.Name)),
		zap.Int(logFieldExitCodeConstant, executionResult.ExitCode))

	if executionResult.ExitCode != 0 {
		return executionResult, CommandFailedError{Command: command, Result: executionResult}
	}
	return executionResult, nil
}

// ExecuteHookScript invokes a migration hook script as
// "/bin/sh <script> <repositoryID> <systemRoot>/ <fromBranch> <toBranch>".
func (executor *ShellExecutor) ExecuteHookScript(executionContext context.Context, scriptPath string, repositoryID string, systemRoot string, fromBranch string, toBranch string) (ExecutionResult, error) {
	command := ShellCommand{
		Name: CommandShell,
		Details: CommandDetails{
			Arguments: []string{scriptPath, repositoryID, systemRoot + systemRootSuffixConstant, fromBranch, toBranch},
		},
	}
	return executor.Execute(executionContext, command)
}
