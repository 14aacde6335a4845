package repoconf

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	repositoryLinePrefixConstant     = "repository|"
	fieldSeparatorConstant           = "|"
	mirrorSeparatorConstant          = " "
	databaseDetailSeparatorConstant  = "#"
	servicePortSeparatorConstant     = ","
	disabledMarkerConstant           = "#"
	doubleDisabledMarkerConstant     = "##"
	repositoryLineFieldCountConstant = 5
	repositoryLineTemplateConstant   = "repository|%s|%s|%s|%s#%s#%d,%d"
)

// RepositoryLine is the decoded form of one repository configuration line.
type RepositoryLine struct {
	Identifier     string
	Description    string
	Mirrors        []string
	DatabaseURL    string
	DatabaseFormat string
	ServicePort    int
	SSLServicePort int
	Disabled       bool
}

// IsRepositoryLine reports whether a raw configuration line encodes a
// repository entry, enabled or disabled. Lines with the wrong field count are
// foreign lines and pass through mutations untouched.
func IsRepositoryLine(rawLine string) bool {
	_, recognized := ParseRepositoryLine(rawLine)
	return recognized
}

// ParseRepositoryLine decodes one configuration line. The second return value
// is false for foreign lines.
func ParseRepositoryLine(rawLine string) (RepositoryLine, bool) {
	trimmedLine := strings.TrimSpace(rawLine)

	disabled := false
	if strings.HasPrefix(trimmedLine, disabledMarkerConstant) {
		if strings.HasPrefix(trimmedLine, doubleDisabledMarkerConstant) {
			return RepositoryLine{}, false
		}
		disabled = true
		// The marker may precede indentation carried over from the original
		// line, as in "#  repository|...".
		trimmedLine = strings.TrimSpace(strings.TrimPrefix(trimmedLine, disabledMarkerConstant))
	}

	if !strings.HasPrefix(trimmedLine, repositoryLinePrefixConstant) {
		return RepositoryLine{}, false
	}

	fields := strings.Split(trimmedLine, fieldSeparatorConstant)
	if len(fields) != repositoryLineFieldCountConstant {
		return RepositoryLine{}, false
	}

	decodedLine := RepositoryLine{
		Identifier:  fields[1],
		Description: fields[2],
		Disabled:    disabled,
	}
	if mirrorField := strings.TrimSpace(fields[3]); len(mirrorField) > 0 {
		decodedLine.Mirrors = strings.Fields(mirrorField)
	}

	databaseDetails := strings.SplitN(fields[4], databaseDetailSeparatorConstant, 3)
	decodedLine.DatabaseURL = databaseDetails[0]
	if len(databaseDetails) > 1 {
		decodedLine.DatabaseFormat = databaseDetails[1]
	}
	if len(databaseDetails) > 2 {
		servicePorts := strings.SplitN(databaseDetails[2], servicePortSeparatorConstant, 2)
		decodedLine.ServicePort = parsePortValue(servicePorts[0])
		if len(servicePorts) > 1 {
			decodedLine.SSLServicePort = parsePortValue(servicePorts[1])
		}
	}
	return decodedLine, true
}

func parsePortValue(rawPort string) int {
	portValue, parseError := strconv.Atoi(strings.TrimSpace(rawPort))
	if parseError != nil {
		return 0
	}
	return portValue
}

// FormatRepositoryLine encodes a repository entry into its wire form.
func FormatRepositoryLine(line RepositoryLine) string {
	encodedLine := fmt.Sprintf(repositoryLineTemplateConstant,
		line.Identifier,
		line.Description,
		strings.Join(line.Mirrors, mirrorSeparatorConstant),
		line.DatabaseURL,
		line.DatabaseFormat,
		line.ServicePort,
		line.SSLServicePort,
	)
	if line.Disabled {
		encodedLine = disabledMarkerConstant + encodedLine
	}
	return encodedLine
}

func lineIdentifier(rawLine string) (string, bool) {
	decodedLine, recognized := ParseRepositoryLine(rawLine)
	if !recognized {
		return "", false
	}
	return decodedLine.Identifier, true
}
