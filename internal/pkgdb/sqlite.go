package pkgdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverNameConstant           = "sqlite"
	readOnlyDataSourceTemplateConstant = "file:%s?mode=ro"
	readWriteDataSourceTemplate        = "file:%s"
	memoryDataSourceConstant           = "file:%s?mode=memory&cache=shared"
	openDatabaseErrorTemplateConstant  = "unable to open package database %s: %w"
	corruptedDatabaseTemplateConstant  = "%w: %s: %v"
	schemaErrorTemplateConstant        = "unable to initialize package database schema: %w"
	queryErrorTemplateConstant         = "package database query failed: %w"
	unknownPackageErrorTemplate        = "unknown package identifier %d"
	atomVersionSeparatorConstant       = "-"
)

const packageDatabaseSchemaConstant = `
CREATE TABLE IF NOT EXISTS baseinfo (
	idpackage INTEGER PRIMARY KEY AUTOINCREMENT,
	atom TEXT NOT NULL,
	category TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	versiontag TEXT NOT NULL DEFAULT '',
	revision INTEGER NOT NULL DEFAULT 0,
	slot TEXT NOT NULL DEFAULT '0',
	digest TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conflicts (
	idpackage INTEGER NOT NULL,
	conflict TEXT NOT NULL,
	FOREIGN KEY (idpackage) REFERENCES baseinfo(idpackage) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS licenses (
	idpackage INTEGER NOT NULL,
	license TEXT NOT NULL,
	FOREIGN KEY (idpackage) REFERENCES baseinfo(idpackage) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS licenses_accepted (
	license TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS branch_migration (
	repository TEXT NOT NULL,
	from_branch TEXT NOT NULL,
	to_branch TEXT NOT NULL,
	post_migration_md5sum TEXT NOT NULL,
	post_upgrade_md5sum TEXT NOT NULL,
	PRIMARY KEY (repository, from_branch, to_branch)
);

CREATE INDEX IF NOT EXISTS idx_baseinfo_keyslot ON baseinfo(category, name, slot);
`

var requiredTableNames = []string{"baseinfo", "conflicts", "licenses", "branch_migration"}

// SQLiteRepository implements Repository on top of a modernc.org/sqlite
// database handle.
type SQLiteRepository struct {
	databaseHandle *sql.DB
	databasePath   string
	inMemory       bool
	validator      ValidatorFunc
}

// OpenDatabase opens a durable package database file. Read-only handles are
// used for repository databases; the installed-package database opens
// read-write. A missing file yields ErrRepositoryNotAvailable and a present
// but structurally broken file yields ErrRepositoryCorrupted.
func OpenDatabase(databasePath string, readOnly bool) (*SQLiteRepository, error) {
	fileInformation, statError := os.Stat(databasePath)
	if statError != nil || fileInformation.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryNotAvailable, databasePath)
	}

	dataSourceName := fmt.Sprintf(readWriteDataSourceTemplate, databasePath)
	if readOnly {
		dataSourceName = fmt.Sprintf(readOnlyDataSourceTemplateConstant, databasePath)
	}

	databaseHandle, openError := sql.Open(sqliteDriverNameConstant, dataSourceName)
	if openError != nil {
		return nil, fmt.Errorf(openDatabaseErrorTemplateConstant, databasePath, openError)
	}
	// The file exists at this point, so a connection failure means the file
	// is not a readable database.
	if pingError := databaseHandle.Ping(); pingError != nil {
		databaseHandle.Close()
		return nil, fmt.Errorf(corruptedDatabaseTemplateConstant, ErrRepositoryCorrupted, databasePath, pingError)
	}

	repository := &SQLiteRepository{databaseHandle: databaseHandle, databasePath: databasePath}
	if !readOnly {
		if schemaError := repository.initializeSchema(); schemaError != nil {
			databaseHandle.Close()
			return nil, fmt.Errorf(corruptedDatabaseTemplateConstant, ErrRepositoryCorrupted, databasePath, schemaError)
		}
	}
	return repository, nil
}

// OpenOrCreateDatabase opens a read-write package database, creating the
// file and its parent directory when absent. Used for the installed-package
// database, which must exist from the first invocation on. A present but
// structurally broken file yields ErrRepositoryCorrupted.
func OpenOrCreateDatabase(databasePath string) (*SQLiteRepository, error) {
	if directoryError := os.MkdirAll(filepath.Dir(databasePath), 0o755); directoryError != nil {
		return nil, fmt.Errorf(openDatabaseErrorTemplateConstant, databasePath, directoryError)
	}

	dataSourceName := fmt.Sprintf(readWriteDataSourceTemplate, databasePath)
	databaseHandle, openError := sql.Open(sqliteDriverNameConstant, dataSourceName)
	if openError != nil {
		return nil, fmt.Errorf(openDatabaseErrorTemplateConstant, databasePath, openError)
	}
	if pingError := databaseHandle.Ping(); pingError != nil {
		databaseHandle.Close()
		return nil, fmt.Errorf(corruptedDatabaseTemplateConstant, ErrRepositoryCorrupted, databasePath, pingError)
	}

	repository := &SQLiteRepository{databaseHandle: databaseHandle, databasePath: databasePath}
	if schemaError := repository.initializeSchema(); schemaError != nil {
		databaseHandle.Close()
		return nil, fmt.Errorf(corruptedDatabaseTemplateConstant, ErrRepositoryCorrupted, databasePath, schemaError)
	}
	return repository, nil
}

// OpenTemporary creates an in-memory package database. The identifier keeps
// concurrently opened temporary databases distinct.
func OpenTemporary(identifier string) (*SQLiteRepository, error) {
	dataSourceName := fmt.Sprintf(memoryDataSourceConstant, identifier)
	databaseHandle, openError := sql.Open(sqliteDriverNameConstant, dataSourceName)
	if openError != nil {
		return nil, fmt.Errorf(openDatabaseErrorTemplateConstant, identifier, openError)
	}
	// A single connection keeps the shared-cache memory database alive.
	databaseHandle.SetMaxOpenConns(1)

	repository := &SQLiteRepository{databaseHandle: databaseHandle, databasePath: identifier, inMemory: true}
	if schemaError := repository.initializeSchema(); schemaError != nil {
		databaseHandle.Close()
		return nil, schemaError
	}
	return repository, nil
}

func (repository *SQLiteRepository) initializeSchema() error {
	if _, executeError := repository.databaseHandle.Exec(packageDatabaseSchemaConstant); executeError != nil {
		return fmt.Errorf(schemaErrorTemplateConstant, executeError)
	}
	return nil
}

// DatabasePath returns the backing file path or the temporary identifier.
func (repository *SQLiteRepository) DatabasePath() string {
	return repository.databasePath
}

// InMemory reports whether the handle is backed by process memory only.
func (repository *SQLiteRepository) InMemory() bool {
	return repository.inMemory
}

// KeySlot returns the key and slot of a package entry.
func (repository *SQLiteRepository) KeySlot(packageID int64) (KeySlot, error) {
	var category, name, slot string
	scanError := repository.databaseHandle.QueryRow(
		`SELECT category, name, slot FROM baseinfo WHERE idpackage = ?`, packageID,
	).Scan(&category, &name, &slot)
	if scanError == sql.ErrNoRows {
		return KeySlot{}, fmt.Errorf(unknownPackageErrorTemplate, packageID)
	}
	if scanError != nil {
		return KeySlot{}, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return KeySlot{Key: category + "/" + name, Slot: slot}, nil
}

// VersioningData returns the version, tag, and revision of a package entry.
func (repository *SQLiteRepository) VersioningData(packageID int64) (VersionTriple, error) {
	var triple VersionTriple
	scanError := repository.databaseHandle.QueryRow(
		`SELECT version, versiontag, revision FROM baseinfo WHERE idpackage = ?`, packageID,
	).Scan(&triple.Version, &triple.Tag, &triple.Revision)
	if scanError == sql.ErrNoRows {
		return VersionTriple{}, fmt.Errorf(unknownPackageErrorTemplate, packageID)
	}
	if scanError != nil {
		return VersionTriple{}, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return triple, nil
}

// Digest returns the content checksum of a package entry.
func (repository *SQLiteRepository) Digest(packageID int64) (string, error) {
	var digest string
	scanError := repository.databaseHandle.QueryRow(
		`SELECT digest FROM baseinfo WHERE idpackage = ?`, packageID,
	).Scan(&digest)
	if scanError == sql.ErrNoRows {
		return "", fmt.Errorf(unknownPackageErrorTemplate, packageID)
	}
	if scanError != nil {
		return "", fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return digest, nil
}

// Atom returns the textual package identifier of a package entry.
func (repository *SQLiteRepository) Atom(packageID int64) (string, error) {
	var atom string
	scanError := repository.databaseHandle.QueryRow(
		`SELECT atom FROM baseinfo WHERE idpackage = ?`, packageID,
	).Scan(&atom)
	if scanError == sql.ErrNoRows {
		return "", fmt.Errorf(unknownPackageErrorTemplate, packageID)
	}
	if scanError != nil {
		return "", fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return atom, nil
}

// Conflicts lists the conflict atoms a package entry declares.
func (repository *SQLiteRepository) Conflicts(packageID int64) ([]string, error) {
	return repository.queryStrings(
		`SELECT conflict FROM conflicts WHERE idpackage = ?`, packageID)
}

// LicenseDataKeys lists the license keys a package entry declares.
func (repository *SQLiteRepository) LicenseDataKeys(packageID int64) ([]string, error) {
	return repository.queryStrings(
		`SELECT license FROM licenses WHERE idpackage = ?`, packageID)
}

func (repository *SQLiteRepository) queryStrings(query string, arguments ...any) ([]string, error) {
	rows, queryError := repository.databaseHandle.Query(query, arguments...)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, queryError)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if scanError := rows.Scan(&value); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplateConstant, scanError)
		}
		values = append(values, value)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, rowsError)
	}
	return values, nil
}

// ListAllPackageIDs enumerates every package entry identifier in ascending
// order.
func (repository *SQLiteRepository) ListAllPackageIDs() ([]int64, error) {
	rows, queryError := repository.databaseHandle.Query(`SELECT idpackage FROM baseinfo ORDER BY idpackage`)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, queryError)
	}
	defer rows.Close()

	var packageIdentifiers []int64
	for rows.Next() {
		var packageID int64
		if scanError := rows.Scan(&packageID); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplateConstant, scanError)
		}
		packageIdentifiers = append(packageIdentifiers, packageID)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, rowsError)
	}
	return packageIdentifiers, nil
}

// SearchKeySlot finds package identifiers sharing the supplied key and slot.
func (repository *SQLiteRepository) SearchKeySlot(key string, slot string) ([]int64, error) {
	separatorIndex := strings.LastIndex(key, "/")
	if separatorIndex < 0 {
		return nil, nil
	}
	category := key[:separatorIndex]
	name := key[separatorIndex+1:]

	rows, queryError := repository.databaseHandle.Query(
		`SELECT idpackage FROM baseinfo WHERE category = ? AND name = ? AND slot = ? ORDER BY idpackage`,
		category, name, slot)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, queryError)
	}
	defer rows.Close()

	var packageIdentifiers []int64
	for rows.Next() {
		var packageID int64
		if scanError := rows.Scan(&packageID); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplateConstant, scanError)
		}
		packageIdentifiers = append(packageIdentifiers, packageID)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, rowsError)
	}
	return packageIdentifiers, nil
}

// AtomMatch resolves an atom against the database. Exact atom text wins,
// then the key form, then the key:slot composite. UnknownPackageID signals no
// match.
func (repository *SQLiteRepository) AtomMatch(atom string) (int64, error) {
	trimmedAtom := strings.TrimSpace(atom)
	if len(trimmedAtom) == 0 {
		return UnknownPackageID, nil
	}

	var packageID int64
	scanError := repository.databaseHandle.QueryRow(
		`SELECT idpackage FROM baseinfo WHERE atom = ? ORDER BY idpackage DESC LIMIT 1`, trimmedAtom,
	).Scan(&packageID)
	if scanError == nil {
		return packageID, nil
	}
	if scanError != sql.ErrNoRows {
		return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}

	key := trimmedAtom
	slot := ""
	if separatorIndex := strings.LastIndex(trimmedAtom, KeySlotSeparatorConstant); separatorIndex > 0 {
		key = trimmedAtom[:separatorIndex]
		slot = trimmedAtom[separatorIndex+1:]
	}

	keySeparatorIndex := strings.LastIndex(key, "/")
	if keySeparatorIndex < 0 {
		return UnknownPackageID, nil
	}
	category := key[:keySeparatorIndex]
	name := key[keySeparatorIndex+1:]

	query := `SELECT idpackage FROM baseinfo WHERE category = ? AND name = ? ORDER BY idpackage DESC LIMIT 1`
	arguments := []any{category, name}
	if len(slot) > 0 {
		query = `SELECT idpackage FROM baseinfo WHERE category = ? AND name = ? AND slot = ? ORDER BY idpackage DESC LIMIT 1`
		arguments = append(arguments, slot)
	}

	scanError = repository.databaseHandle.QueryRow(query, arguments...).Scan(&packageID)
	if scanError == sql.ErrNoRows {
		return UnknownPackageID, nil
	}
	if scanError != nil {
		return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return packageID, nil
}

// ValidateDatabase answers structural checks by confirming every required
// table exists.
func (repository *SQLiteRepository) ValidateDatabase() error {
	for _, tableName := range requiredTableNames {
		var foundName string
		scanError := repository.databaseHandle.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName,
		).Scan(&foundName)
		if scanError == sql.ErrNoRows {
			return fmt.Errorf("%w: missing table %s", ErrRepositoryCorrupted, tableName)
		}
		if scanError != nil {
			return fmt.Errorf("%w: %v", ErrRepositoryCorrupted, scanError)
		}
	}
	return nil
}

// CheckDatabaseAPI probes schema compatibility with a lightweight query.
func (repository *SQLiteRepository) CheckDatabaseAPI() error {
	var entryCount int64
	scanError := repository.databaseHandle.QueryRow(`SELECT COUNT(*) FROM baseinfo`).Scan(&entryCount)
	if scanError != nil {
		return fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return nil
}

// PackageValidator classifies a package entry as visible or masked through
// the installed validator. Handles without a validator treat every entry as
// visible.
func (repository *SQLiteRepository) PackageValidator(packageID int64, live bool) (int64, ReasonCode) {
	if repository.validator == nil {
		return packageID, 0
	}
	return repository.validator(packageID, live)
}

// SetPackageValidator installs the masking validator.
func (repository *SQLiteRepository) SetPackageValidator(validator ValidatorFunc) {
	repository.validator = validator
}

// IsLicenseAccepted reports whether a license was accepted in installed
// package state.
func (repository *SQLiteRepository) IsLicenseAccepted(licenseName string) (bool, error) {
	var foundName string
	scanError := repository.databaseHandle.QueryRow(
		`SELECT license FROM licenses_accepted WHERE license = ?`, licenseName,
	).Scan(&foundName)
	if scanError == sql.ErrNoRows {
		return false, nil
	}
	if scanError != nil {
		return false, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return true, nil
}

// AcceptLicense records a license acceptance in installed package state.
func (repository *SQLiteRepository) AcceptLicense(licenseName string) error {
	_, executeError := repository.databaseHandle.Exec(
		`INSERT INTO licenses_accepted (license) VALUES (?) ON CONFLICT(license) DO NOTHING`, licenseName)
	if executeError != nil {
		return fmt.Errorf(queryErrorTemplateConstant, executeError)
	}
	return nil
}

// InsertPackage adds a package entry, returning its identifier.
func (repository *SQLiteRepository) InsertPackage(record PackageRecord) (int64, error) {
	atom := record.Atom
	if len(atom) == 0 {
		atom = record.Category + "/" + record.Name + atomVersionSeparatorConstant + record.Version
	}
	slot := record.Slot
	if len(slot) == 0 {
		slot = "0"
	}

	insertResult, executeError := repository.databaseHandle.Exec(
		`INSERT INTO baseinfo (atom, category, name, version, versiontag, revision, slot, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		atom, record.Category, record.Name, record.Version, record.Tag, record.Revision, slot, record.Digest)
	if executeError != nil {
		return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, executeError)
	}
	packageID, identifierError := insertResult.LastInsertId()
	if identifierError != nil {
		return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, identifierError)
	}

	for _, conflictAtom := range record.Conflicts {
		if _, conflictError := repository.databaseHandle.Exec(
			`INSERT INTO conflicts (idpackage, conflict) VALUES (?, ?)`, packageID, conflictAtom); conflictError != nil {
			return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, conflictError)
		}
	}
	for _, licenseName := range record.Licenses {
		if _, licenseError := repository.databaseHandle.Exec(
			`INSERT INTO licenses (idpackage, license) VALUES (?, ?)`, packageID, licenseName); licenseError != nil {
			return UnknownPackageID, fmt.Errorf(queryErrorTemplateConstant, licenseError)
		}
	}
	return packageID, nil
}

// BranchMigrationChecksums returns the stored checksum pair for an exact
// branch transition, when present.
func (repository *SQLiteRepository) BranchMigrationChecksums(repositoryID string, fromBranch string, toBranch string) (BranchMigrationChecksums, bool, error) {
	var checksums BranchMigrationChecksums
	scanError := repository.databaseHandle.QueryRow(
		`SELECT post_migration_md5sum, post_upgrade_md5sum FROM branch_migration
		 WHERE repository = ? AND from_branch = ? AND to_branch = ?`,
		repositoryID, fromBranch, toBranch,
	).Scan(&checksums.PostMigrationChecksum, &checksums.PostUpgradeChecksum)
	if scanError == sql.ErrNoRows {
		return BranchMigrationChecksums{}, false, nil
	}
	if scanError != nil {
		return BranchMigrationChecksums{}, false, fmt.Errorf(queryErrorTemplateConstant, scanError)
	}
	return checksums, true, nil
}

// RecordBranchMigration unconditionally overwrites the migration record for a
// branch transition.
func (repository *SQLiteRepository) RecordBranchMigration(repositoryID string, fromBranch string, toBranch string, postMigrationChecksum string, postUpgradeChecksum string) error {
	_, executeError := repository.databaseHandle.Exec(
		`INSERT INTO branch_migration (repository, from_branch, to_branch, post_migration_md5sum, post_upgrade_md5sum)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(repository, from_branch, to_branch) DO UPDATE SET
			post_migration_md5sum = excluded.post_migration_md5sum,
			post_upgrade_md5sum = excluded.post_upgrade_md5sum`,
		repositoryID, fromBranch, toBranch, postMigrationChecksum, postUpgradeChecksum)
	if executeError != nil {
		return fmt.Errorf(queryErrorTemplateConstant, executeError)
	}
	return nil
}

// BranchMigrationRecords returns, per repository, the checksum pairs of every
// recorded source branch for the supplied destination branch.
func (repository *SQLiteRepository) BranchMigrationRecords(toBranch string) (map[string]map[string]BranchMigrationChecksums, error) {
	rows, queryError := repository.databaseHandle.Query(
		`SELECT repository, from_branch, post_migration_md5sum, post_upgrade_md5sum
		 FROM branch_migration WHERE to_branch = ?`, toBranch)
	if queryError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, queryError)
	}
	defer rows.Close()

	records := map[string]map[string]BranchMigrationChecksums{}
	for rows.Next() {
		var repositoryID, fromBranch string
		var checksums BranchMigrationChecksums
		if scanError := rows.Scan(&repositoryID, &fromBranch, &checksums.PostMigrationChecksum, &checksums.PostUpgradeChecksum); scanError != nil {
			return nil, fmt.Errorf(queryErrorTemplateConstant, scanError)
		}
		repositoryRecords, exists := records[repositoryID]
		if !exists {
			repositoryRecords = map[string]BranchMigrationChecksums{}
			records[repositoryID] = repositoryRecords
		}
		repositoryRecords[fromBranch] = checksums
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(queryErrorTemplateConstant, rowsError)
	}
	return records, nil
}

// SetBranchMigrationPostUpgradeChecksum updates the post-upgrade checksum of
// one migration record.
func (repository *SQLiteRepository) SetBranchMigrationPostUpgradeChecksum(repositoryID string, fromBranch string, toBranch string, postUpgradeChecksum string) error {
	_, executeError := repository.databaseHandle.Exec(
		`UPDATE branch_migration SET post_upgrade_md5sum = ?
		 WHERE repository = ? AND from_branch = ? AND to_branch = ?`,
		postUpgradeChecksum, repositoryID, fromBranch, toBranch)
	if executeError != nil {
		return fmt.Errorf(queryErrorTemplateConstant, executeError)
	}
	return nil
}

// Commit flushes pending mutations. database/sql autocommits, so only a
// liveness probe remains.
func (repository *SQLiteRepository) Commit() error {
	return repository.databaseHandle.Ping()
}

// Close releases the handle.
func (repository *SQLiteRepository) Close() error {
	return repository.databaseHandle.Close()
}

var _ Repository = (*SQLiteRepository)(nil)

// IsNotAvailable reports whether the error classifies as the expected-absence
// failure class.
func IsNotAvailable(candidateError error) bool {
	return errors.Is(candidateError, ErrRepositoryNotAvailable)
}

// IsCorrupted reports whether the error classifies as the structural failure
// class.
func IsCorrupted(candidateError error) bool {
	return errors.Is(candidateError, ErrRepositoryCorrupted)
}
