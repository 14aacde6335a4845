package repoconf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitepkg/kite/internal/repoconf"
)

const (
	configurationFileNameConstant = "repositories.conf"
	foreignHeaderLineConstant     = "# managed by kite, do not edit"
	foreignDirectiveLineConstant  = "product|standard"
)

func writeConfiguration(testInstance *testing.T, contentLines ...string) string {
	testInstance.Helper()
	configurationPath := filepath.Join(testInstance.TempDir(), configurationFileNameConstant)
	content := ""
	for _, contentLine := range contentLines {
		content += contentLine + "\n"
	}
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o644))
	return configurationPath
}

func readConfiguration(testInstance *testing.T, configurationPath string) string {
	testInstance.Helper()
	contentBytes, readError := os.ReadFile(configurationPath)
	require.NoError(testInstance, readError)
	return string(contentBytes)
}

func TestLoadRepositoriesMissingFile(testInstance *testing.T) {
	persistence := repoconf.NewPersistence(filepath.Join(testInstance.TempDir(), configurationFileNameConstant))

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Empty(testInstance, loadedLines)
}

func TestLoadRepositoriesSkipsForeignLines(testInstance *testing.T) {
	configurationPath := writeConfiguration(testInstance,
		foreignHeaderLineConstant,
		"repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027",
		foreignDirectiveLineConstant,
		"#repository|extra|Extra|https://mirror.example/pkg|https://pkg.example.org/extra#bz2#1026,1027",
	)
	persistence := repoconf.NewPersistence(configurationPath)

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 2)
	require.Equal(testInstance, "main", loadedLines[0].Identifier)
	require.False(testInstance, loadedLines[0].Disabled)
	require.Equal(testInstance, "extra", loadedLines[1].Identifier)
	require.True(testInstance, loadedLines[1].Disabled)
}

func TestSaveRepositoryReplacesDisabledTwin(testInstance *testing.T) {
	configurationPath := writeConfiguration(testInstance,
		foreignHeaderLineConstant,
		"#repository|main|Old description|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027",
	)
	persistence := repoconf.NewPersistence(configurationPath)

	saveError := persistence.SaveRepository(repoconf.RepositoryLine{
		Identifier:     "main",
		Description:    "Main repository",
		Mirrors:        []string{"https://mirror.example/pkg"},
		DatabaseURL:    "https://pkg.example.org/main",
		DatabaseFormat: "bz2",
		ServicePort:    1026,
		SSLServicePort: 1027,
	})
	require.NoError(testInstance, saveError)

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 1)
	require.Equal(testInstance, "Main repository", loadedLines[0].Description)
	require.False(testInstance, loadedLines[0].Disabled)
	require.Contains(testInstance, readConfiguration(testInstance, configurationPath), foreignHeaderLineConstant)
}

func TestSaveRepositoryCreatesMissingFile(testInstance *testing.T) {
	configurationPath := filepath.Join(testInstance.TempDir(), configurationFileNameConstant)
	persistence := repoconf.NewPersistence(configurationPath)

	saveError := persistence.SaveRepository(repoconf.RepositoryLine{
		Identifier:     "main",
		Description:    "Main repository",
		DatabaseURL:    "https://pkg.example.org/main",
		DatabaseFormat: "bz2",
		ServicePort:    1026,
		SSLServicePort: 1027,
	})
	require.NoError(testInstance, saveError)

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 1)
	require.Equal(testInstance, "main", loadedLines[0].Identifier)
}

func TestRemoveRepositoryDropsBothTwins(testInstance *testing.T) {
	configurationPath := writeConfiguration(testInstance,
		foreignHeaderLineConstant,
		"repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027",
		"#repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027",
		"repository|extra|Extra|https://mirror.example/pkg|https://pkg.example.org/extra#bz2#1026,1027",
	)
	persistence := repoconf.NewPersistence(configurationPath)

	require.NoError(testInstance, persistence.RemoveRepository("main"))

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 1)
	require.Equal(testInstance, "extra", loadedLines[0].Identifier)
	require.Contains(testInstance, readConfiguration(testInstance, configurationPath), foreignHeaderLineConstant)
}

func TestSetRepositoryEnabledRoundTripPreservesBytes(testInstance *testing.T) {
	repositoryLine := "repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027"
	configurationPath := writeConfiguration(testInstance, foreignHeaderLineConstant, repositoryLine)
	persistence := repoconf.NewPersistence(configurationPath)
	originalContent := readConfiguration(testInstance, configurationPath)

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", false))
	require.Contains(testInstance, readConfiguration(testInstance, configurationPath), "#"+repositoryLine)

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", true))
	require.Equal(testInstance, originalContent, readConfiguration(testInstance, configurationPath))
}

func TestSetRepositoryEnabledHandlesIndentedEntries(testInstance *testing.T) {
	repositoryLine := "  repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027"
	configurationPath := writeConfiguration(testInstance, repositoryLine)
	persistence := repoconf.NewPersistence(configurationPath)
	originalContent := readConfiguration(testInstance, configurationPath)

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", false))

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 1)
	require.True(testInstance, loadedLines[0].Disabled)

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", true))
	require.Equal(testInstance, originalContent, readConfiguration(testInstance, configurationPath))

	loadedLines, loadError = persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 1)
	require.False(testInstance, loadedLines[0].Disabled)
}

func TestSetRepositoryEnabledIsIdempotent(testInstance *testing.T) {
	repositoryLine := "repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027"
	configurationPath := writeConfiguration(testInstance, repositoryLine)
	persistence := repoconf.NewPersistence(configurationPath)

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", true))
	require.Equal(testInstance, repositoryLine+"\n", readConfiguration(testInstance, configurationPath))

	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", false))
	require.NoError(testInstance, persistence.SetRepositoryEnabled("main", false))
	require.Equal(testInstance, "#"+repositoryLine+"\n", readConfiguration(testInstance, configurationPath))
}

func TestWriteOrderedRepositoriesReordersEnabledPartition(testInstance *testing.T) {
	configurationPath := writeConfiguration(testInstance,
		foreignHeaderLineConstant,
		"repository|first|First|https://mirror.example/pkg|https://pkg.example.org/first#bz2#1026,1027",
		"repository|second|Second|https://mirror.example/pkg|https://pkg.example.org/second#bz2#1026,1027",
		"#repository|sleepy|Sleepy|https://mirror.example/pkg|https://pkg.example.org/sleepy#bz2#1026,1027",
	)
	persistence := repoconf.NewPersistence(configurationPath)

	require.NoError(testInstance, persistence.WriteOrderedRepositories([]string{"second", "first"}))

	loadedLines, loadError := persistence.LoadRepositories()
	require.NoError(testInstance, loadError)
	require.Len(testInstance, loadedLines, 3)
	require.Equal(testInstance, "sleepy", loadedLines[0].Identifier)
	require.True(testInstance, loadedLines[0].Disabled)
	require.Equal(testInstance, "second", loadedLines[1].Identifier)
	require.Equal(testInstance, "first", loadedLines[2].Identifier)
	require.Contains(testInstance, readConfiguration(testInstance, configurationPath), foreignHeaderLineConstant)
}
