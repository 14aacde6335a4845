package repoconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	temporaryFilePatternConstant    = ".cfg_save_*"
	configurationFileModeConstant   = 0o644
	lineTerminatorConstant          = "\n"
	readConfigurationErrorTemplate  = "unable to read repository configuration %s: %w"
	writeConfigurationErrorTemplate = "unable to write repository configuration %s: %w"
)

// Persistence applies atomic transformations to one repository configuration
// file. Every mutation loads the file verbatim, partitions repository lines
// from foreign lines, rewrites the repository partition only, and replaces
// the file through a temporary file rename so concurrent readers never
// observe a partial write.
type Persistence struct {
	configurationPath string
}

// NewPersistence constructs a Persistence bound to a configuration file path.
func NewPersistence(configurationPath string) *Persistence {
	return &Persistence{configurationPath: configurationPath}
}

// ConfigurationPath returns the bound configuration file path.
func (persistence *Persistence) ConfigurationPath() string {
	return persistence.configurationPath
}

// LoadRepositories decodes every repository line, enabled and disabled, in
// file order.
func (persistence *Persistence) LoadRepositories() ([]RepositoryLine, error) {
	contentLines, readError := persistence.readLines()
	if readError != nil {
		return nil, readError
	}
	var decodedLines []RepositoryLine
	for _, rawLine := range contentLines {
		if decodedLine, recognized := ParseRepositoryLine(rawLine); recognized {
			decodedLines = append(decodedLines, decodedLine)
		}
	}
	return decodedLines, nil
}

// SaveRepository inserts or overwrites the entry for the supplied repository.
// Any previous line for the identifier, including a disabled twin, is
// dropped before the freshly encoded line is appended to the repository
// partition.
func (persistence *Persistence) SaveRepository(line RepositoryLine) error {
	contentLines, readError := persistence.readLines()
	if readError != nil {
		return readError
	}

	foreignLines, repositoryLines := partitionLines(contentLines)
	retainedLines := make([]string, 0, len(repositoryLines)+1)
	for _, rawLine := range repositoryLines {
		if identifier, _ := lineIdentifier(rawLine); identifier == line.Identifier {
			continue
		}
		retainedLines = append(retainedLines, rawLine)
	}
	retainedLines = append(retainedLines, FormatRepositoryLine(line))

	return persistence.writeLines(append(foreignLines, retainedLines...))
}

// RemoveRepository drops the entry for the supplied identifier, including a
// disabled twin when present.
func (persistence *Persistence) RemoveRepository(identifier string) error {
	contentLines, readError := persistence.readLines()
	if readError != nil {
		return readError
	}

	foreignLines, repositoryLines := partitionLines(contentLines)
	retainedLines := make([]string, 0, len(repositoryLines))
	for _, rawLine := range repositoryLines {
		if lineIdentifierValue, _ := lineIdentifier(rawLine); lineIdentifierValue == identifier {
			continue
		}
		retainedLines = append(retainedLines, rawLine)
	}

	return persistence.writeLines(append(foreignLines, retainedLines...))
}

// SetRepositoryEnabled toggles the disabled comment marker of the entry for
// the supplied identifier. Enabling removes exactly the first marker, which
// restores the original line content byte for byte when disabling added it
// and also revives hand-edited entries whose marker sits after indentation.
func (persistence *Persistence) SetRepositoryEnabled(identifier string, enabled bool) error {
	contentLines, readError := persistence.readLines()
	if readError != nil {
		return readError
	}

	rewrittenLines := make([]string, 0, len(contentLines))
	for _, rawLine := range contentLines {
		decodedLine, recognized := ParseRepositoryLine(rawLine)
		if !recognized || decodedLine.Identifier != identifier {
			rewrittenLines = append(rewrittenLines, rawLine)
			continue
		}
		switch {
		case enabled && decodedLine.Disabled:
			rewrittenLines = append(rewrittenLines, strings.Replace(rawLine, disabledMarkerConstant, "", 1))
		case !enabled && !decodedLine.Disabled:
			rewrittenLines = append(rewrittenLines, disabledMarkerConstant+rawLine)
		default:
			rewrittenLines = append(rewrittenLines, rawLine)
		}
	}

	return persistence.writeLines(rewrittenLines)
}

// WriteOrderedRepositories rewrites the enabled repository partition to match
// the supplied priority order. Foreign lines and disabled entries keep their
// positions relative to the partition.
func (persistence *Persistence) WriteOrderedRepositories(orderedIdentifiers []string) error {
	contentLines, readError := persistence.readLines()
	if readError != nil {
		return readError
	}

	foreignLines := make([]string, 0, len(contentLines))
	activeLinesByIdentifier := map[string]string{}
	for _, rawLine := range contentLines {
		decodedLine, recognized := ParseRepositoryLine(rawLine)
		if !recognized || decodedLine.Disabled {
			foreignLines = append(foreignLines, rawLine)
			continue
		}
		activeLinesByIdentifier[decodedLine.Identifier] = rawLine
	}

	orderedLines := make([]string, 0, len(activeLinesByIdentifier))
	for _, identifier := range orderedIdentifiers {
		if rawLine, exists := activeLinesByIdentifier[identifier]; exists {
			orderedLines = append(orderedLines, rawLine)
		}
	}

	return persistence.writeLines(append(foreignLines, orderedLines...))
}

func partitionLines(contentLines []string) (foreignLines []string, repositoryLines []string) {
	for _, rawLine := range contentLines {
		if IsRepositoryLine(rawLine) {
			repositoryLines = append(repositoryLines, rawLine)
			continue
		}
		foreignLines = append(foreignLines, rawLine)
	}
	return foreignLines, repositoryLines
}

func (persistence *Persistence) readLines() ([]string, error) {
	contentBytes, readError := os.ReadFile(persistence.configurationPath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return nil, nil
		}
		return nil, fmt.Errorf(readConfigurationErrorTemplate, persistence.configurationPath, readError)
	}
	content := strings.TrimSuffix(string(contentBytes), lineTerminatorConstant)
	if len(content) == 0 {
		return nil, nil
	}
	return strings.Split(content, lineTerminatorConstant), nil
}

func (persistence *Persistence) writeLines(contentLines []string) error {
	configurationDirectory := filepath.Dir(persistence.configurationPath)

	temporaryFile, createError := os.CreateTemp(configurationDirectory, filepath.Base(persistence.configurationPath)+temporaryFilePatternConstant)
	if createError != nil {
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, createError)
	}
	temporaryPath := temporaryFile.Name()

	var builder strings.Builder
	for _, rawLine := range contentLines {
		builder.WriteString(rawLine)
		builder.WriteString(lineTerminatorConstant)
	}

	if _, writeError := temporaryFile.WriteString(builder.String()); writeError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, writeError)
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, syncError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, closeError)
	}
	if chmodError := os.Chmod(temporaryPath, configurationFileModeConstant); chmodError != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, chmodError)
	}

	if renameError := os.Rename(temporaryPath, persistence.configurationPath); renameError != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf(writeConfigurationErrorTemplate, persistence.configurationPath, renameError)
	}
	return nil
}
