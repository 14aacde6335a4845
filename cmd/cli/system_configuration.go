package cli

const (
	systemRootConfigurationKeyConstant       = "root"
	systemBranchConfigurationKeyConstant     = "branch"
	systemProductConfigurationKeyConstant    = "product"
	systemRepositoriesFileConfigurationKey   = "repositories_file"
	systemDatabasesDirectoryConfigurationKey = "databases_directory"
	systemInstalledDatabaseConfigurationKey  = "installed_database"
	systemPIDFileConfigurationKeyConstant    = "pid_file"
	systemMaskFileConfigurationKeyConstant   = "mask_file"
	systemUnmaskFileConfigurationKeyConstant = "unmask_file"
	defaultSystemRootConstant                = "/"
	defaultBranchConstant                    = "stable"
	defaultProductConstant                   = "standard"
	defaultRepositoriesFileConstant          = "/etc/kite/repositories.conf"
	defaultDatabasesDirectoryConstant        = "/var/lib/kite/repositories"
	defaultInstalledDatabaseConstant         = "/var/lib/kite/installed/packages.db"
	defaultPIDFileConstant                   = "/run/kite/kite.lock"
	defaultMaskFileConstant                  = "/etc/kite/package.mask"
	defaultUnmaskFileConstant                = "/etc/kite/package.unmask"
)

// DefaultSystemConfiguration returns baseline system location values.
func DefaultSystemConfiguration() ApplicationSystemConfiguration {
	return ApplicationSystemConfiguration{
		Root:               defaultSystemRootConstant,
		Branch:             defaultBranchConstant,
		Product:            defaultProductConstant,
		RepositoriesFile:   defaultRepositoriesFileConstant,
		DatabasesDirectory: defaultDatabasesDirectoryConstant,
		InstalledDatabase:  defaultInstalledDatabaseConstant,
		PIDFile:            defaultPIDFileConstant,
		MaskFile:           defaultMaskFileConstant,
		UnmaskFile:         defaultUnmaskFileConstant,
	}
}

// DefaultSystemConfigurationValues produces Viper defaults for the system section.
func DefaultSystemConfigurationValues(rootKey string) map[string]any {
	defaults := DefaultSystemConfiguration()
	return map[string]any{
		rootKey + "." + systemRootConfigurationKeyConstant:       defaults.Root,
		rootKey + "." + systemBranchConfigurationKeyConstant:     defaults.Branch,
		rootKey + "." + systemProductConfigurationKeyConstant:    defaults.Product,
		rootKey + "." + systemRepositoriesFileConfigurationKey:   defaults.RepositoriesFile,
		rootKey + "." + systemDatabasesDirectoryConfigurationKey: defaults.DatabasesDirectory,
		rootKey + "." + systemInstalledDatabaseConfigurationKey:  defaults.InstalledDatabase,
		rootKey + "." + systemPIDFileConfigurationKeyConstant:    defaults.PIDFile,
		rootKey + "." + systemMaskFileConfigurationKeyConstant:   defaults.MaskFile,
		rootKey + "." + systemUnmaskFileConfigurationKeyConstant: defaults.UnmaskFile,
	}
}
