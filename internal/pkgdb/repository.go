package pkgdb

import "errors"

const (
	// UnknownPackageID is the sentinel returned when no package entry matches.
	UnknownPackageID int64 = -1
	// KeySlotSeparatorConstant joins a package key with its slot designator.
	KeySlotSeparatorConstant = ":"
)

// ErrRepositoryNotAvailable reports an expected absence: the repository
// database file has not been fetched yet.
var ErrRepositoryNotAvailable = errors.New("repository database not available")

// ErrRepositoryCorrupted reports a structural or integrity failure inside a
// repository database.
var ErrRepositoryCorrupted = errors.New("repository database corrupted")

// PackageMatch identifies one concrete package entry inside one repository.
// Matches are value types; equality is by the pair.
type PackageMatch struct {
	PackageID    int64
	RepositoryID string
}

// KeySlot carries a package's name-category identity and its parallel-install
// slot designator.
type KeySlot struct {
	Key  string
	Slot string
}

// String renders the key:slot composite keyword form.
func (keySlot KeySlot) String() string {
	return keySlot.Key + KeySlotSeparatorConstant + keySlot.Slot
}

// VersionTriple aggregates the three version components compared when
// classifying package actions.
type VersionTriple struct {
	Version  string
	Tag      string
	Revision int64
}

// ReasonCode is the raw masking reason identifier produced by a package
// validator. The settings package maps codes onto the closed reason
// enumeration.
type ReasonCode int

// ValidatorFunc decides whether a package entry is selectable. It returns the
// package identifier when the entry is visible or UnknownPackageID plus the
// masking reason code when it is masked.
type ValidatorFunc func(packageID int64, live bool) (int64, ReasonCode)

// PackageRecord describes one package entry inserted into a database handle.
type PackageRecord struct {
	Atom      string
	Category  string
	Name      string
	Version   string
	Tag       string
	Revision  int64
	Slot      string
	Digest    string
	Conflicts []string
	Licenses  []string
}

// BranchMigrationChecksums holds the checksum pair stored for one branch
// transition of one repository.
type BranchMigrationChecksums struct {
	PostMigrationChecksum string
	PostUpgradeChecksum   string
}

// Repository is the embedded package database contract the orchestration
// layer is wired against.
type Repository interface {
	// KeySlot returns the key and slot of a package entry.
	KeySlot(packageID int64) (KeySlot, error)
	// VersioningData returns the version, tag, and revision of a package entry.
	VersioningData(packageID int64) (VersionTriple, error)
	// Digest returns the content checksum of a package entry.
	Digest(packageID int64) (string, error)
	// Atom returns the textual package identifier of a package entry.
	Atom(packageID int64) (string, error)
	// Conflicts lists the conflict atoms a package entry declares.
	Conflicts(packageID int64) ([]string, error)
	// ListAllPackageIDs enumerates every package entry identifier.
	ListAllPackageIDs() ([]int64, error)
	// SearchKeySlot finds package identifiers sharing the supplied key and slot.
	SearchKeySlot(key string, slot string) ([]int64, error)
	// AtomMatch resolves an atom against the database, returning
	// UnknownPackageID when nothing matches.
	AtomMatch(atom string) (int64, error)
	// ValidateDatabase answers structural checks, returning
	// ErrRepositoryCorrupted on integrity failure.
	ValidateDatabase() error
	// CheckDatabaseAPI probes schema compatibility; callers treat failures as
	// non-fatal.
	CheckDatabaseAPI() error
	// PackageValidator classifies a package entry as visible or masked.
	PackageValidator(packageID int64, live bool) (int64, ReasonCode)
	// SetPackageValidator installs the masking validator consulted by
	// PackageValidator.
	SetPackageValidator(validator ValidatorFunc)
	// LicenseDataKeys lists the license keys a package entry declares.
	LicenseDataKeys(packageID int64) ([]string, error)
	// IsLicenseAccepted reports whether a license was accepted in installed
	// package state.
	IsLicenseAccepted(licenseName string) (bool, error)
	// AcceptLicense records a license acceptance in installed package state.
	AcceptLicense(licenseName string) error
	// InsertPackage adds a package entry, returning its identifier.
	InsertPackage(record PackageRecord) (int64, error)
	// BranchMigrationChecksums returns the stored checksum pair for an exact
	// branch transition, when present.
	BranchMigrationChecksums(repositoryID string, fromBranch string, toBranch string) (BranchMigrationChecksums, bool, error)
	// RecordBranchMigration unconditionally overwrites the migration record
	// for a branch transition.
	RecordBranchMigration(repositoryID string, fromBranch string, toBranch string, postMigrationChecksum string, postUpgradeChecksum string) error
	// BranchMigrationRecords returns, per repository, the checksum pairs of
	// every recorded source branch for the supplied destination branch.
	BranchMigrationRecords(toBranch string) (map[string]map[string]BranchMigrationChecksums, error)
	// SetBranchMigrationPostUpgradeChecksum updates the post-upgrade checksum
	// of one migration record.
	SetBranchMigrationPostUpgradeChecksum(repositoryID string, fromBranch string, toBranch string, postUpgradeChecksum string) error
	// InMemory reports whether the handle is backed by process memory only.
	InMemory() bool
	// Commit flushes pending mutations.
	Commit() error
	// Close releases the handle.
	Close() error
}
