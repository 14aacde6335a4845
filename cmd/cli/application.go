package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/cmd/cli/backupcmd"
	"github.com/kitepkg/kite/cmd/cli/hookscmd"
	"github.com/kitepkg/kite/cmd/cli/maskcmd"
	"github.com/kitepkg/kite/cmd/cli/repocmd"
	"github.com/kitepkg/kite/internal/session"
	"github.com/kitepkg/kite/internal/settings"
	"github.com/kitepkg/kite/internal/utils"
	"github.com/kitepkg/kite/internal/utils/flags"
	pathutils "github.com/kitepkg/kite/internal/utils/path"
)

const (
	applicationNameConstant                 = "kite"
	applicationShortDescriptionConstant     = "Command-line interface for the kite package state manager"
	applicationLongDescriptionConstant      = "kite manages binary package repositories, masks, branch migration hooks, and package database backups."
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	environmentPrefixConstant               = "KITE"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	rootCommandInfoMessageConstant          = "kite CLI executed"
	logFieldCommandNameConstant             = "command_name"
	logFieldArgumentCountConstant           = "argument_count"
	loggerNotInitializedMessageConstant     = "logger not initialized"
	defaultConfigurationSearchPathConstant  = "."
	systemConfigurationKeyConstant          = "system"
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common ApplicationCommonConfiguration `mapstructure:"common"`
	System ApplicationSystemConfiguration `mapstructure:"system"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationSystemConfiguration locates the managed system's package state.
type ApplicationSystemConfiguration struct {
	Root               string `mapstructure:"root"`
	Branch             string `mapstructure:"branch"`
	Product            string `mapstructure:"product"`
	RepositoriesFile   string `mapstructure:"repositories_file"`
	DatabasesDirectory string `mapstructure:"databases_directory"`
	InstalledDatabase  string `mapstructure:"installed_database"`
	PIDFile            string `mapstructure:"pid_file"`
	MaskFile           string `mapstructure:"mask_file"`
	UnmaskFile         string `mapstructure:"unmask_file"`
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand            *cobra.Command
	configurationLoader    *utils.ConfigurationLoader
	loggerFactory          *utils.LoggerFactory
	logger                 *zap.Logger
	configuration          ApplicationConfiguration
	configurationMetadata  utils.LoadedConfiguration
	configurationFilePath  string
	logLevelFlagValue      string
	logFormatFlagValue     string
	commandContextAccessor utils.CommandContextAccessor
	homeExpander           *pathutils.HomeExpander
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		[]string{defaultConfigurationSearchPathConstant},
	)
	embeddedConfiguration, embeddedConfigurationType := EmbeddedDefaultConfiguration()
	configurationLoader.SetEmbeddedConfiguration(embeddedConfiguration, embeddedConfigurationType)

	application := &Application{
		configurationLoader:    configurationLoader,
		loggerFactory:          utils.NewLoggerFactory(),
		logger:                 zap.NewNop(),
		commandContextAccessor: utils.NewCommandContextAccessor(),
		homeExpander:           pathutils.NewHomeExpander(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.SetOut(utils.NewFlushingWriter(os.Stdout))
	cobraCommand.SetErr(utils.NewFlushingWriter(os.Stderr))
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	repositoryGroupBuilder := repocmd.CommandGroupBuilder{
		LoggerProvider:  application.loggerProvider,
		SessionProvider: application.newSession,
	}
	if repositoryGroupCommand, repositoryGroupError := repositoryGroupBuilder.Build(); repositoryGroupError == nil {
		cobraCommand.AddCommand(repositoryGroupCommand)
	}

	maskGroupBuilder := maskcmd.CommandGroupBuilder{
		LoggerProvider:  application.loggerProvider,
		SessionProvider: application.newSession,
	}
	if maskGroupCommand, maskGroupError := maskGroupBuilder.Build(); maskGroupError == nil {
		cobraCommand.AddCommand(maskGroupCommand)
	}

	hooksGroupBuilder := hookscmd.CommandGroupBuilder{
		LoggerProvider:  application.loggerProvider,
		SessionProvider: application.newSession,
	}
	if hooksGroupCommand, hooksGroupError := hooksGroupBuilder.Build(); hooksGroupError == nil {
		cobraCommand.AddCommand(hooksGroupCommand)
	}

	backupGroupBuilder := backupcmd.CommandGroupBuilder{
		LoggerProvider:  application.loggerProvider,
		SessionProvider: application.newSession,
	}
	if backupGroupCommand, backupGroupError := backupGroupBuilder.Build(); backupGroupError == nil {
		cobraCommand.AddCommand(backupGroupCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
// Process arguments pass through toggle normalization so "--flag yes" style
// values reach the parser as "--flag=yes".
func (application *Application) Execute() error {
	application.rootCommand.SetArgs(flags.NormalizeToggleArguments(os.Args[1:]))
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) loggerProvider() *zap.Logger {
	return application.logger
}

// newSession assembles an orchestration session from the resolved
// configuration. Each command invocation owns and closes its session.
func (application *Application) newSession() (*session.Session, error) {
	systemConfiguration := application.configuration.System
	return session.New(session.Options{
		Logger: application.logger,
		SettingsOptions: settings.Options{
			SystemRoot:         systemConfiguration.Root,
			Branch:             systemConfiguration.Branch,
			Product:            systemConfiguration.Product,
			ConfigurationPath:  application.homeExpander.Expand(systemConfiguration.RepositoriesFile),
			DatabasesDirectory: application.homeExpander.Expand(systemConfiguration.DatabasesDirectory),
			MaskFilePath:       application.homeExpander.Expand(systemConfiguration.MaskFile),
			UnmaskFilePath:     application.homeExpander.Expand(systemConfiguration.UnmaskFile),
		},
		InstalledDatabasePath: application.homeExpander.Expand(systemConfiguration.InstalledDatabase),
		PIDFilePath:           application.homeExpander.Expand(systemConfiguration.PIDFile),
	})
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
	}
	for configurationKey, configurationValue := range DefaultSystemConfigurationValues(systemConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger

	application.logger.Debug(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
	)

	if command != nil {
		updatedContext := application.commandContextAccessor.WithConfigurationFilePath(
			command.Context(),
			application.configurationMetadata.ConfigFileUsed,
		)
		command.SetContext(updatedContext)
		if rootCommand := command.Root(); rootCommand != nil {
			rootCommand.SetContext(updatedContext)
		}
	}

	return nil
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	application.logger.Debug(
		rootCommandInfoMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.Int(logFieldArgumentCountConstant, len(arguments)),
	)

	if len(arguments) == 0 {
		return command.Help()
	}

	return nil
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}

	syncError := application.logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	rootCommand := command.Root()
	if rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}

		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
