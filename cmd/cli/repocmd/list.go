package repocmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kitepkg/kite/internal/session"
	"github.com/kitepkg/kite/internal/utils/flags"
)

const (
	listUseConstant              = "list"
	listShortDescription         = "List configured repositories in priority order"
	listLongDescription          = "list prints every configured repository, including disabled entries, with its priority, description, and database revision."
	listYAMLFlagNameConstant     = "yaml"
	listYAMLFlagUsageConstant    = "Emit the repository list as YAML"
	listLineTemplateConstant     = "%d. %s [%s] revision %d\n"
	listDisabledTemplateConstant = "-. %s [%s] (disabled)\n"
)

// RepositoryListEntry is the YAML projection of one configured repository.
type RepositoryListEntry struct {
	Identifier  string `yaml:"identifier"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
	Revision    int64  `yaml:"revision"`
	Enabled     bool   `yaml:"enabled"`
}

// ListCommandBuilder assembles the repo list command.
type ListCommandBuilder struct {
	LoggerProvider  LoggerProvider
	SessionProvider SessionProvider
}

// Build constructs the repo list command.
func (builder *ListCommandBuilder) Build() (*cobra.Command, error) {
	var yamlOutput bool

	command := &cobra.Command{
		Use:   listUseConstant,
		Short: listShortDescription,
		Long:  listLongDescription,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withSession(builder.SessionProvider, func(activeSession *session.Session) error {
				return builder.printRepositories(command, activeSession, yamlOutput)
			})
		},
	}

	flags.AddToggleFlag(command.Flags(), &yamlOutput, listYAMLFlagNameConstant, "", false, listYAMLFlagUsageConstant)

	return command, nil
}

func (builder *ListCommandBuilder) printRepositories(command *cobra.Command, activeSession *session.Session, yamlOutput bool) error {
	entries := collectListEntries(activeSession)

	if yamlOutput {
		encodedEntries, marshalError := yaml.Marshal(entries)
		if marshalError != nil {
			return marshalError
		}
		_, writeError := command.OutOrStdout().Write(encodedEntries)
		return writeError
	}

	for _, entry := range entries {
		if !entry.Enabled {
			fmt.Fprintf(command.OutOrStdout(), listDisabledTemplateConstant, entry.Identifier, entry.Description)
			continue
		}
		fmt.Fprintf(command.OutOrStdout(), listLineTemplateConstant, entry.Priority, entry.Identifier, entry.Description, entry.Revision)
	}
	return nil
}

func collectListEntries(activeSession *session.Session) []RepositoryListEntry {
	var entries []RepositoryListEntry
	for priority, identifier := range activeSession.Settings.Order {
		metadata, exists := activeSession.Settings.Available[identifier]
		if !exists {
			continue
		}
		entries = append(entries, RepositoryListEntry{
			Identifier:  identifier,
			Description: metadata.Description,
			Priority:    priority,
			Revision:    activeSession.Registry.RepositoryRevision(identifier),
			Enabled:     true,
		})
	}

	excludedIdentifiers := make([]string, 0, len(activeSession.Settings.Excluded))
	for identifier := range activeSession.Settings.Excluded {
		excludedIdentifiers = append(excludedIdentifiers, identifier)
	}
	sort.Strings(excludedIdentifiers)
	for _, identifier := range excludedIdentifiers {
		entries = append(entries, RepositoryListEntry{
			Identifier:  identifier,
			Description: activeSession.Settings.Excluded[identifier].Description,
			Priority:    -1,
			Enabled:     false,
		})
	}
	return entries
}
