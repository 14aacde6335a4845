package settings_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/repoconf"
	"github.com/kitepkg/kite/internal/settings"
)

const (
	configurationFileNameConstant = "repositories.conf"
	mainRepositoryLineConstant    = "repository|main|Main|https://mirror.example/pkg|https://pkg.example.org/main#bz2#1026,1027"
	extraRepositoryLineConstant   = "repository|extra|Extra|https://mirror.example/pkg|https://pkg.example.org/extra#bz2#1026,1027"
	sleepyRepositoryLineConstant  = "#repository|sleepy|Sleepy|https://mirror.example/pkg|https://pkg.example.org/sleepy#bz2#1026,1027"
)

func newTestSettings(testInstance *testing.T, configurationLines ...string) *settings.SystemSettings {
	testInstance.Helper()
	stateDirectory := testInstance.TempDir()
	configurationPath := filepath.Join(stateDirectory, configurationFileNameConstant)

	content := ""
	for _, configurationLine := range configurationLines {
		content += configurationLine + "\n"
	}
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o644))

	systemSettings, newError := settings.New(settings.Options{
		SystemRoot:         "/",
		Branch:             "stable",
		Product:            "standard",
		ConfigurationPath:  configurationPath,
		DatabasesDirectory: filepath.Join(stateDirectory, "repositories"),
		MaskFilePath:       filepath.Join(stateDirectory, "package.mask"),
		UnmaskFilePath:     filepath.Join(stateDirectory, "package.unmask"),
	})
	require.NoError(testInstance, newError)
	return systemSettings
}

func TestNewPartitionsEnabledAndDisabled(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance,
		mainRepositoryLineConstant, extraRepositoryLineConstant, sleepyRepositoryLineConstant)

	require.Equal(testInstance, []string{"main", "extra"}, systemSettings.Order)
	require.Contains(testInstance, systemSettings.Available, "main")
	require.Contains(testInstance, systemSettings.Available, "extra")
	require.Contains(testInstance, systemSettings.Excluded, "sleepy")
	require.NotContains(testInstance, systemSettings.Available, "sleepy")
}

func TestMetadataFromLineDerivesPaths(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)

	metadata, exists := systemSettings.RepositoryMetadataByIdentifier("main")
	require.True(testInstance, exists)

	expectedDatabasePath := filepath.Join(systemSettings.DatabasesDirectory, "main")
	require.Equal(testInstance, expectedDatabasePath, metadata.DatabasePath)
	require.Equal(testInstance, filepath.Join(expectedDatabasePath, settings.DatabaseFileNameConstant), metadata.DatabaseFilePath())
	require.Equal(testInstance, filepath.Join(expectedDatabasePath, settings.RevisionFileNameConstant), metadata.RevisionFilePath())
	require.Equal(testInstance, filepath.Join(expectedDatabasePath, settings.PostBranchSwitchScriptNameConstant), metadata.PostBranchSwitchScript)
	require.Equal(testInstance, filepath.Join(expectedDatabasePath, settings.PostBranchUpgradeScriptNameConstant), metadata.PostBranchUpgradeScript)
}

func TestLineFromMetadataRoundTrip(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)

	metadata, exists := systemSettings.RepositoryMetadataByIdentifier("main")
	require.True(testInstance, exists)

	encodedLine := settings.LineFromMetadata(metadata)
	decodedLine, recognized := repoconf.ParseRepositoryLine(mainRepositoryLineConstant)
	require.True(testInstance, recognized)
	require.Equal(testInstance, decodedLine, encodedLine)
}

func TestClearPreservesTemporaryRepositories(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)

	systemSettings.Available["scratch"] = &settings.RepositoryMetadata{
		Identifier: "scratch",
		Temporary:  true,
	}
	systemSettings.InsertInOrder("scratch", 0)

	require.NoError(testInstance, systemSettings.Clear())

	require.Contains(testInstance, systemSettings.Available, "scratch")
	require.Contains(testInstance, systemSettings.Available, "main")
	require.Equal(testInstance, []string{"scratch", "main"}, systemSettings.Order)
}

func TestClearRunsChangeHooksUnlessSuspended(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)

	hookRunCount := 0
	systemSettings.RegisterChangeHook(func() { hookRunCount++ })

	require.NoError(testInstance, systemSettings.Clear())
	require.Equal(testInstance, 1, hookRunCount)

	restoreHooks := systemSettings.SuspendChangeHooks()
	require.NoError(testInstance, systemSettings.Clear())
	require.Equal(testInstance, 1, hookRunCount)

	restoreHooks()
	require.NoError(testInstance, systemSettings.Clear())
	require.Equal(testInstance, 2, hookRunCount)
}

func TestInsertInOrderClampsPositions(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant, extraRepositoryLineConstant)

	testCases := []struct {
		name     string
		position int
		expected []string
	}{
		{name: "negative_clamps_to_front", position: -5, expected: []string{"extra", "main"}},
		{name: "middle", position: 1, expected: []string{"main", "extra"}},
		{name: "beyond_end_clamps_to_back", position: 99, expected: []string{"main", "extra"}},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf("%d_%s", testCaseIndex, testCase.name), func(testInstance *testing.T) {
			systemSettings.InsertInOrder("extra", testCase.position)
			require.Equal(testInstance, testCase.expected, systemSettings.Order)
		})
	}
}

func TestRemoveFromOrder(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant, extraRepositoryLineConstant)

	systemSettings.RemoveFromOrder("main")
	require.Equal(testInstance, []string{"extra"}, systemSettings.Order)

	systemSettings.RemoveFromOrder("absent")
	require.Equal(testInstance, []string{"extra"}, systemSettings.Order)
}

func TestMaskValidationCache(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)
	packageMatch := pkgdb.PackageMatch{PackageID: 7, RepositoryID: "main"}

	_, cached := systemSettings.CachedMaskValidation(packageMatch)
	require.False(testInstance, cached)

	systemSettings.StoreMaskValidation(packageMatch, true)
	verdict, cached := systemSettings.CachedMaskValidation(packageMatch)
	require.True(testInstance, cached)
	require.True(testInstance, verdict)

	systemSettings.InvalidateMaskValidation()
	_, cached = systemSettings.CachedMaskValidation(packageMatch)
	require.False(testInstance, cached)
}

func TestLiveMaskingOverlayTransitions(testInstance *testing.T) {
	systemSettings := newTestSettings(testInstance, mainRepositoryLineConstant)
	packageMatch := pkgdb.PackageMatch{PackageID: 3, RepositoryID: "main"}

	systemSettings.LiveMasking.AddMask(packageMatch)
	require.Contains(testInstance, systemSettings.LiveMasking.MaskMatches, packageMatch)

	systemSettings.LiveMasking.AddUnmask(packageMatch)
	require.NotContains(testInstance, systemSettings.LiveMasking.MaskMatches, packageMatch)
	require.Contains(testInstance, systemSettings.LiveMasking.UnmaskMatches, packageMatch)

	systemSettings.LiveMasking.Discard(packageMatch)
	require.NotContains(testInstance, systemSettings.LiveMasking.UnmaskMatches, packageMatch)

	systemSettings.LiveMasking.AddMask(packageMatch)
	systemSettings.LiveMasking.Clear()
	require.Empty(testInstance, systemSettings.LiveMasking.MaskMatches)
	require.Empty(testInstance, systemSettings.LiveMasking.UnmaskMatches)
}

func TestMaskReasonMetadata(testInstance *testing.T) {
	require.Equal(testInstance, "not masked", settings.MaskReasonNone.Description())
	require.Equal(testInstance, settings.MaskCategoryUserMask, settings.MaskReasonUserPackageMask.Category())
	require.Contains(testInstance, settings.UserMaskReasons(), settings.MaskReasonUserLicenseMask)
	require.Contains(testInstance, settings.UserUnmaskReasons(), settings.MaskReasonUserLiveUnmask)
}
