package backup_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/backup"
)

const (
	databaseFileNameConstant = "packages.db"
	databaseContentConstant  = "pretend this is a sqlite database"
)

func plentyOfSpace(directoryPath string) (uint64, error) {
	return 10 * 1024 * 1024 * 1024, nil
}

func newTestService(testInstance *testing.T, freeSpaceChecker backup.FreeSpaceChecker) *backup.Service {
	testInstance.Helper()
	service, constructionError := backup.NewService(backup.ServiceDependencies{
		Logger:           zap.NewNop(),
		FreeSpaceChecker: freeSpaceChecker,
	})
	require.NoError(testInstance, constructionError)
	return service
}

func writeTestDatabase(testInstance *testing.T) string {
	testInstance.Helper()
	databasePath := filepath.Join(testInstance.TempDir(), databaseFileNameConstant)
	require.NoError(testInstance, os.WriteFile(databasePath, []byte(databaseContentConstant), 0o644))
	return databasePath
}

func TestNewServiceRequiresLogger(testInstance *testing.T) {
	_, constructionError := backup.NewService(backup.ServiceDependencies{})
	require.Error(testInstance, constructionError)
}

func TestBackupAndRestoreRoundTrip(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	databasePath := writeTestDatabase(testInstance)

	backupPath, backupError := service.BackupDatabase(databasePath, "")
	require.NoError(testInstance, backupError)
	require.Equal(testInstance, filepath.Dir(databasePath), filepath.Dir(backupPath))
	require.True(testInstance, strings.HasPrefix(filepath.Base(backupPath), backup.BackupFilePrefixConstant))
	require.True(testInstance, strings.HasSuffix(backupPath, ".gz"))

	require.NoError(testInstance, os.WriteFile(databasePath, []byte("corrupted"), 0o644))
	require.NoError(testInstance, service.RestoreDatabase(backupPath, databasePath))

	restoredContent, readError := os.ReadFile(databasePath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, databaseContentConstant, string(restoredContent))
}

func TestBackupHonorsDestinationDirectory(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	databasePath := writeTestDatabase(testInstance)
	destinationDirectory := testInstance.TempDir()

	backupPath, backupError := service.BackupDatabase(databasePath, destinationDirectory)
	require.NoError(testInstance, backupError)
	require.Equal(testInstance, destinationDirectory, filepath.Dir(backupPath))
}

func TestBackupRefusedWithoutFreeSpace(testInstance *testing.T) {
	service := newTestService(testInstance, func(directoryPath string) (uint64, error) {
		return 1024, nil
	})
	databasePath := writeTestDatabase(testInstance)

	_, backupError := service.BackupDatabase(databasePath, "")
	require.Error(testInstance, backupError)
	require.Contains(testInstance, backupError.Error(), "not enough free space")
	require.Contains(testInstance, backupError.Error(), "1.0 KiB available")
	require.Contains(testInstance, backupError.Error(), "300 MiB required")
}

func TestRestoreRefusedWithoutFreeSpace(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	databasePath := writeTestDatabase(testInstance)
	backupPath, backupError := service.BackupDatabase(databasePath, "")
	require.NoError(testInstance, backupError)

	constrainedService := newTestService(testInstance, func(directoryPath string) (uint64, error) {
		return 1024, nil
	})
	restoreError := constrainedService.RestoreDatabase(backupPath, databasePath)
	require.Error(testInstance, restoreError)
	require.Contains(testInstance, restoreError.Error(), "200 MiB required")
}

func TestRestoreRejectsNonGzipFile(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	databasePath := writeTestDatabase(testInstance)
	bogusBackupPath := filepath.Join(testInstance.TempDir(), backup.BackupFilePrefixConstant+"bogus.gz")
	require.NoError(testInstance, os.WriteFile(bogusBackupPath, []byte("plain text"), 0o644))

	restoreError := service.RestoreDatabase(bogusBackupPath, databasePath)
	require.Error(testInstance, restoreError)

	// The failed restore leaves the live database untouched.
	databaseContent, readError := os.ReadFile(databasePath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, databaseContentConstant, string(databaseContent))
}

func TestListBackupsFiltersAndSorts(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	backupDirectory := testInstance.TempDir()

	backupNames := []string{
		backup.BackupFilePrefixConstant + "packages.db.20260102_10h00m00s.gz",
		backup.BackupFilePrefixConstant + "packages.db.20260101_10h00m00s.gz",
	}
	for _, backupName := range backupNames {
		require.NoError(testInstance, os.WriteFile(filepath.Join(backupDirectory, backupName), []byte("x"), 0o644))
	}
	require.NoError(testInstance, os.WriteFile(filepath.Join(backupDirectory, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(testInstance, os.Mkdir(filepath.Join(backupDirectory, backup.BackupFilePrefixConstant+"directory"), 0o755))

	backupPaths, listError := service.ListBackups(backupDirectory)
	require.NoError(testInstance, listError)
	require.Equal(testInstance, []string{
		filepath.Join(backupDirectory, backupNames[1]),
		filepath.Join(backupDirectory, backupNames[0]),
	}, backupPaths)
}

func TestListBackupsMissingDirectory(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)

	backupPaths, listError := service.ListBackups(filepath.Join(testInstance.TempDir(), "absent"))
	require.NoError(testInstance, listError)
	require.Empty(testInstance, backupPaths)
}

func TestRemoveBackupRefusesForeignFiles(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	foreignPath := filepath.Join(testInstance.TempDir(), "precious.db")
	require.NoError(testInstance, os.WriteFile(foreignPath, []byte("x"), 0o644))

	removeError := service.RemoveBackup(foreignPath)
	require.ErrorIs(testInstance, removeError, backup.ErrNotABackupFile)
	_, statError := os.Stat(foreignPath)
	require.NoError(testInstance, statError)
}

func TestRemoveBackupDeletesBackupFiles(testInstance *testing.T) {
	service := newTestService(testInstance, plentyOfSpace)
	backupPath := filepath.Join(testInstance.TempDir(), backup.BackupFilePrefixConstant+"packages.db.20260101_10h00m00s.gz")
	require.NoError(testInstance, os.WriteFile(backupPath, []byte("x"), 0o644))

	require.NoError(testInstance, service.RemoveBackup(backupPath))
	_, statError := os.Stat(backupPath)
	require.True(testInstance, os.IsNotExist(statError))
}
