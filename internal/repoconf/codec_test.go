package repoconf_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitepkg/kite/internal/repoconf"
)

const (
	subtestNameTemplateConstant = "%d_%s"
	sampleLineConstant          = "repository|main|Main repository|https://mirror.one/pkg https://mirror.two/pkg|https://pkg.example.org/db#bz2#1026,1027"
)

func TestParseRepositoryLine(testInstance *testing.T) {
	testCases := []struct {
		name       string
		rawLine    string
		expected   repoconf.RepositoryLine
		recognized bool
	}{
		{
			name:    "full_line",
			rawLine: sampleLineConstant,
			expected: repoconf.RepositoryLine{
				Identifier:     "main",
				Description:    "Main repository",
				Mirrors:        []string{"https://mirror.one/pkg", "https://mirror.two/pkg"},
				DatabaseURL:    "https://pkg.example.org/db",
				DatabaseFormat: "bz2",
				ServicePort:    1026,
				SSLServicePort: 1027,
			},
			recognized: true,
		},
		{
			name:    "disabled_line",
			rawLine: "#repository|extra|Extra|https://mirror.example/pkg|https://pkg.example.org/extra#bz2#1026,1027",
			expected: repoconf.RepositoryLine{
				Identifier:     "extra",
				Description:    "Extra",
				Mirrors:        []string{"https://mirror.example/pkg"},
				DatabaseURL:    "https://pkg.example.org/extra",
				DatabaseFormat: "bz2",
				ServicePort:    1026,
				SSLServicePort: 1027,
				Disabled:       true,
			},
			recognized: true,
		},
		{
			name:    "missing_ports",
			rawLine: "repository|slim|Slim|https://mirror.example/pkg|https://pkg.example.org/slim#bz2",
			expected: repoconf.RepositoryLine{
				Identifier:     "slim",
				Description:    "Slim",
				Mirrors:        []string{"https://mirror.example/pkg"},
				DatabaseURL:    "https://pkg.example.org/slim",
				DatabaseFormat: "bz2",
			},
			recognized: true,
		},
		{
			name:    "empty_mirror_field",
			rawLine: "repository|local|Local||https://pkg.example.org/local#bz2#1026,1027",
			expected: repoconf.RepositoryLine{
				Identifier:     "local",
				Description:    "Local",
				DatabaseURL:    "https://pkg.example.org/local",
				DatabaseFormat: "bz2",
				ServicePort:    1026,
				SSLServicePort: 1027,
			},
			recognized: true,
		},
		{
			name:    "disabled_line_with_inner_whitespace",
			rawLine: "#  repository|indented|Indented|https://mirror.example/pkg|https://pkg.example.org/indented#bz2#1026,1027",
			expected: repoconf.RepositoryLine{
				Identifier:     "indented",
				Description:    "Indented",
				Mirrors:        []string{"https://mirror.example/pkg"},
				DatabaseURL:    "https://pkg.example.org/indented",
				DatabaseFormat: "bz2",
				ServicePort:    1026,
				SSLServicePort: 1027,
				Disabled:       true,
			},
			recognized: true,
		},
		{
			name:       "double_marker_is_foreign",
			rawLine:    "##repository|gone|Gone|https://mirror.example/pkg|https://pkg.example.org/gone#bz2#1026,1027",
			recognized: false,
		},
		{
			name:       "plain_comment",
			rawLine:    "# repositories configured below",
			recognized: false,
		},
		{
			name:       "wrong_field_count",
			rawLine:    "repository|short|Short|https://pkg.example.org/short#bz2#1026,1027",
			recognized: false,
		},
		{
			name:       "unrelated_directive",
			rawLine:    "product|standard",
			recognized: false,
		},
		{
			name:       "blank_line",
			rawLine:    "",
			recognized: false,
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(subtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			decodedLine, recognized := repoconf.ParseRepositoryLine(testCase.rawLine)
			require.Equal(testInstance, testCase.recognized, recognized)
			if testCase.recognized {
				require.Equal(testInstance, testCase.expected, decodedLine)
			}
		})
	}
}

func TestFormatRepositoryLineRoundTrip(testInstance *testing.T) {
	testCases := []struct {
		name string
		line repoconf.RepositoryLine
	}{
		{
			name: "enabled_entry",
			line: repoconf.RepositoryLine{
				Identifier:     "main",
				Description:    "Main repository",
				Mirrors:        []string{"https://mirror.one/pkg", "https://mirror.two/pkg"},
				DatabaseURL:    "https://pkg.example.org/db",
				DatabaseFormat: "bz2",
				ServicePort:    1026,
				SSLServicePort: 1027,
			},
		},
		{
			name: "disabled_entry",
			line: repoconf.RepositoryLine{
				Identifier:     "extra",
				Description:    "Extra",
				Mirrors:        []string{"https://mirror.example/pkg"},
				DatabaseURL:    "https://pkg.example.org/extra",
				DatabaseFormat: "xz",
				ServicePort:    2000,
				SSLServicePort: 2001,
				Disabled:       true,
			},
		},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(subtestNameTemplateConstant, testCaseIndex, testCase.name), func(testInstance *testing.T) {
			encodedLine := repoconf.FormatRepositoryLine(testCase.line)
			decodedLine, recognized := repoconf.ParseRepositoryLine(encodedLine)
			require.True(testInstance, recognized)
			require.Equal(testInstance, testCase.line, decodedLine)
		})
	}
}

func TestIsRepositoryLine(testInstance *testing.T) {
	require.True(testInstance, repoconf.IsRepositoryLine(sampleLineConstant))
	require.False(testInstance, repoconf.IsRepositoryLine("# plain comment"))
	require.False(testInstance, repoconf.IsRepositoryLine("branch|stable"))
}
