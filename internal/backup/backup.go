package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// BackupFilePrefixConstant marks files produced by BackupDatabase.
	BackupFilePrefixConstant = "kitedb.backup."
	// BackupRequiredFreeBytes is the free space demanded before a backup.
	BackupRequiredFreeBytes uint64 = 300 * 1024 * 1024
	// RestoreRequiredFreeBytes is the free space demanded before a restore.
	RestoreRequiredFreeBytes uint64 = 200 * 1024 * 1024

	backupTimestampLayoutConstant  = "20060102_15h04m05s"
	backupFileSuffixConstant       = ".gz"
	backupFilePermissionsConstant  = 0o644
	restoreTempPatternConstant     = ".kitedb-restore-*"
	freeSpaceErrorTemplateConstant = "not enough free space in %s: %s available, %s required"
	backupCreatedMessageConstant   = "package database backup created"
	backupRestoredMessageConstant  = "package database backup restored"
	logFieldSourceConstant         = "source"
	logFieldDestinationConstant    = "destination"
)

// ErrNotABackupFile reports a removal attempt on a file outside the backup
// naming scheme.
var ErrNotABackupFile = errors.New("not a package database backup file")

// FreeSpaceChecker reports the free bytes available on the filesystem
// holding the supplied directory.
type FreeSpaceChecker func(directoryPath string) (uint64, error)

func statfsFreeSpace(directoryPath string) (uint64, error) {
	var filesystemStatistics unix.Statfs_t
	if statError := unix.Statfs(directoryPath, &filesystemStatistics); statError != nil {
		return 0, statError
	}
	return filesystemStatistics.Bavail * uint64(filesystemStatistics.Bsize), nil
}

// ServiceDependencies enumerates the collaborators required by the backup
// service.
type ServiceDependencies struct {
	Logger           *zap.Logger
	FreeSpaceChecker FreeSpaceChecker
}

// Service snapshots and restores package database files.
type Service struct {
	logger           *zap.Logger
	freeSpaceChecker FreeSpaceChecker
}

var errMissingLogger = errors.New("backup service requires a logger")

// NewService validates dependencies and constructs the backup service.
func NewService(dependencies ServiceDependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, errMissingLogger
	}
	if dependencies.FreeSpaceChecker == nil {
		dependencies.FreeSpaceChecker = statfsFreeSpace
	}
	return &Service{
		logger:           dependencies.Logger,
		freeSpaceChecker: dependencies.FreeSpaceChecker,
	}, nil
}

// BackupDatabase writes a gzip compressed snapshot of the database file into
// destinationDirectory, defaulting to the database's own directory. The
// backup file name embeds the source name and a timestamp. The destination
// filesystem must hold at least BackupRequiredFreeBytes.
func (service *Service) BackupDatabase(databasePath string, destinationDirectory string) (string, error) {
	if destinationDirectory == "" {
		destinationDirectory = filepath.Dir(databasePath)
	}
	if preflightError := service.ensureFreeSpace(destinationDirectory, BackupRequiredFreeBytes); preflightError != nil {
		return "", preflightError
	}

	backupFileName := BackupFilePrefixConstant + filepath.Base(databasePath) +
		"." + time.Now().Format(backupTimestampLayoutConstant) + backupFileSuffixConstant
	backupPath := filepath.Join(destinationDirectory, backupFileName)

	databaseFile, openError := os.Open(databasePath)
	if openError != nil {
		return "", openError
	}
	defer databaseFile.Close()

	backupFile, createError := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, backupFilePermissionsConstant)
	if createError != nil {
		return "", createError
	}

	compressingWriter := gzip.NewWriter(backupFile)
	if _, copyError := io.Copy(compressingWriter, databaseFile); copyError != nil {
		compressingWriter.Close()
		backupFile.Close()
		os.Remove(backupPath)
		return "", copyError
	}
	if flushError := compressingWriter.Close(); flushError != nil {
		backupFile.Close()
		os.Remove(backupPath)
		return "", flushError
	}
	if closeError := backupFile.Close(); closeError != nil {
		os.Remove(backupPath)
		return "", closeError
	}

	service.logger.Info(backupCreatedMessageConstant,
		zap.String(logFieldSourceConstant, databasePath),
		zap.String(logFieldDestinationConstant, backupPath))
	return backupPath, nil
}

// RestoreDatabase decompresses a backup file over the database path. The
// replacement lands through a temporary file and rename, so a failed restore
// never truncates the live database. The destination filesystem must hold at
// least RestoreRequiredFreeBytes.
func (service *Service) RestoreDatabase(backupPath string, databasePath string) error {
	destinationDirectory := filepath.Dir(databasePath)
	if preflightError := service.ensureFreeSpace(destinationDirectory, RestoreRequiredFreeBytes); preflightError != nil {
		return preflightError
	}

	backupFile, openError := os.Open(backupPath)
	if openError != nil {
		return openError
	}
	defer backupFile.Close()

	decompressingReader, gzipError := gzip.NewReader(backupFile)
	if gzipError != nil {
		return gzipError
	}
	defer decompressingReader.Close()

	temporaryFile, temporaryError := os.CreateTemp(destinationDirectory, restoreTempPatternConstant)
	if temporaryError != nil {
		return temporaryError
	}
	temporaryPath := temporaryFile.Name()

	if _, copyError := io.Copy(temporaryFile, decompressingReader); copyError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return copyError
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return syncError
	}
	if chmodError := temporaryFile.Chmod(backupFilePermissionsConstant); chmodError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return chmodError
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		os.Remove(temporaryPath)
		return closeError
	}
	if renameError := os.Rename(temporaryPath, databasePath); renameError != nil {
		os.Remove(temporaryPath)
		return renameError
	}

	service.logger.Info(backupRestoredMessageConstant,
		zap.String(logFieldSourceConstant, backupPath),
		zap.String(logFieldDestinationConstant, databasePath))
	return nil
}

// ListBackups returns the backup files inside a directory, sorted by name.
// The timestamp embedded in the names makes that chronological order.
func (service *Service) ListBackups(directoryPath string) ([]string, error) {
	directoryEntries, readError := os.ReadDir(directoryPath)
	if readError != nil {
		if os.IsNotExist(readError) {
			return nil, nil
		}
		return nil, readError
	}

	var backupPaths []string
	for _, directoryEntry := range directoryEntries {
		if directoryEntry.IsDir() {
			continue
		}
		if strings.HasPrefix(directoryEntry.Name(), BackupFilePrefixConstant) {
			backupPaths = append(backupPaths, filepath.Join(directoryPath, directoryEntry.Name()))
		}
	}
	sort.Strings(backupPaths)
	return backupPaths, nil
}

// RemoveBackup deletes one backup file. Paths outside the backup naming
// scheme are refused.
func (service *Service) RemoveBackup(backupPath string) error {
	if !strings.HasPrefix(filepath.Base(backupPath), BackupFilePrefixConstant) {
		return fmt.Errorf("%w: %s", ErrNotABackupFile, backupPath)
	}
	return os.Remove(backupPath)
}

func (service *Service) ensureFreeSpace(directoryPath string, requiredBytes uint64) error {
	availableBytes, checkError := service.freeSpaceChecker(directoryPath)
	if checkError != nil {
		return checkError
	}
	if availableBytes < requiredBytes {
		return fmt.Errorf(freeSpaceErrorTemplateConstant,
			directoryPath, humanize.IBytes(availableBytes), humanize.IBytes(requiredBytes))
	}
	return nil
}
