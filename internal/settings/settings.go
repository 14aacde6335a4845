package settings

import (
	"fmt"
	"path/filepath"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/repoconf"
)

const (
	// DatabaseFileNameConstant is the file name of every repository package
	// database.
	DatabaseFileNameConstant = "packages.db"
	// RevisionFileNameConstant is the per-repository revision file name.
	RevisionFileNameConstant = "packages.db.revision"
	// PostBranchSwitchScriptNameConstant is the per-repository post branch
	// switch hook script file name.
	PostBranchSwitchScriptNameConstant = "post-branch-switch.sh"
	// PostBranchUpgradeScriptNameConstant is the per-repository post branch
	// upgrade hook script file name.
	PostBranchUpgradeScriptNameConstant = "post-branch-upgrade.sh"

	reloadErrorTemplateConstant = "unable to reload repository settings: %w"
)

// RepositoryMetadata is the typed record describing one repository.
type RepositoryMetadata struct {
	Identifier              string
	Description             string
	Mirrors                 []string
	DatabasePath            string
	DatabaseURL             string
	DatabaseFormat          string
	ServicePort             int
	SSLServicePort          int
	Temporary               bool
	SmartPackage            bool
	PackagePath             string
	PostBranchSwitchScript  string
	PostBranchUpgradeScript string
}

// LiveMaskingOverlay supersedes the persisted mask files for the current
// process until cleared.
type LiveMaskingOverlay struct {
	MaskMatches   map[pkgdb.PackageMatch]struct{}
	UnmaskMatches map[pkgdb.PackageMatch]struct{}
}

func newLiveMaskingOverlay() *LiveMaskingOverlay {
	return &LiveMaskingOverlay{
		MaskMatches:   map[pkgdb.PackageMatch]struct{}{},
		UnmaskMatches: map[pkgdb.PackageMatch]struct{}{},
	}
}

// AddMask records a live mask for the match and drops any live unmask.
func (overlay *LiveMaskingOverlay) AddMask(match pkgdb.PackageMatch) {
	delete(overlay.UnmaskMatches, match)
	overlay.MaskMatches[match] = struct{}{}
}

// AddUnmask records a live unmask for the match and drops any live mask.
func (overlay *LiveMaskingOverlay) AddUnmask(match pkgdb.PackageMatch) {
	delete(overlay.MaskMatches, match)
	overlay.UnmaskMatches[match] = struct{}{}
}

// Discard removes the match from both live sets.
func (overlay *LiveMaskingOverlay) Discard(match pkgdb.PackageMatch) {
	delete(overlay.MaskMatches, match)
	delete(overlay.UnmaskMatches, match)
}

// Clear empties both live sets.
func (overlay *LiveMaskingOverlay) Clear() {
	overlay.MaskMatches = map[pkgdb.PackageMatch]struct{}{}
	overlay.UnmaskMatches = map[pkgdb.PackageMatch]struct{}{}
}

// Options configures a SystemSettings instance.
type Options struct {
	SystemRoot          string
	Branch              string
	Product             string
	ConfigurationPath   string
	DatabasesDirectory  string
	MaskFilePath        string
	UnmaskFilePath      string
	LicenseWhitelists   map[string][]string
	AcceptedLicenses    []string
}

// SystemSettings is the single source of truth for repository metadata and
// masking state. It carries no internal locking; callers serialize access.
type SystemSettings struct {
	SystemRoot         string
	Branch             string
	Product            string
	ConfigurationPath  string
	DatabasesDirectory string
	MaskFilePath       string
	UnmaskFilePath     string
	Available          map[string]*RepositoryMetadata
	Excluded           map[string]*RepositoryMetadata
	Order              []string
	LicenseWhitelists  map[string][]string
	AcceptedLicenses   map[string]struct{}
	LiveMasking        *LiveMaskingOverlay

	maskValidationCache map[pkgdb.PackageMatch]bool
	changeHooks         []func()
	hooksSuspended      bool
}

// New constructs SystemSettings and performs the initial repository reload.
func New(options Options) (*SystemSettings, error) {
	acceptedLicenses := map[string]struct{}{}
	for _, licenseName := range options.AcceptedLicenses {
		acceptedLicenses[licenseName] = struct{}{}
	}

	systemSettings := &SystemSettings{
		SystemRoot:          options.SystemRoot,
		Branch:              options.Branch,
		Product:             options.Product,
		ConfigurationPath:   options.ConfigurationPath,
		DatabasesDirectory:  options.DatabasesDirectory,
		MaskFilePath:        options.MaskFilePath,
		UnmaskFilePath:      options.UnmaskFilePath,
		Available:           map[string]*RepositoryMetadata{},
		Excluded:            map[string]*RepositoryMetadata{},
		LicenseWhitelists:   options.LicenseWhitelists,
		AcceptedLicenses:    acceptedLicenses,
		LiveMasking:         newLiveMaskingOverlay(),
		maskValidationCache: map[pkgdb.PackageMatch]bool{},
	}
	if systemSettings.LicenseWhitelists == nil {
		systemSettings.LicenseWhitelists = map[string][]string{}
	}

	if reloadError := systemSettings.reloadRepositories(); reloadError != nil {
		return nil, reloadError
	}
	return systemSettings, nil
}

// RegisterChangeHook records a callback run after every Clear.
func (systemSettings *SystemSettings) RegisterChangeHook(hook func()) {
	systemSettings.changeHooks = append(systemSettings.changeHooks, hook)
}

// SuspendChangeHooks disables change hooks until the returned restore
// function runs. Used while tearing down connection caches to avoid
// reentrant revalidation storms.
func (systemSettings *SystemSettings) SuspendChangeHooks() func() {
	previousValue := systemSettings.hooksSuspended
	systemSettings.hooksSuspended = true
	return func() {
		systemSettings.hooksSuspended = previousValue
	}
}

// Clear reloads persisted repository state from disk, drops validation
// caches, and runs registered change hooks unless suspended. Temporary
// repositories survive the reload; they are never persisted.
func (systemSettings *SystemSettings) Clear() error {
	if reloadError := systemSettings.reloadRepositories(); reloadError != nil {
		return reloadError
	}
	systemSettings.InvalidateMaskValidation()

	if !systemSettings.hooksSuspended {
		for _, hook := range systemSettings.changeHooks {
			hook()
		}
	}
	return nil
}

func (systemSettings *SystemSettings) reloadRepositories() error {
	persistence := repoconf.NewPersistence(systemSettings.ConfigurationPath)
	decodedLines, loadError := persistence.LoadRepositories()
	if loadError != nil {
		return fmt.Errorf(reloadErrorTemplateConstant, loadError)
	}

	temporaryMetadata := map[string]*RepositoryMetadata{}
	temporaryOrder := []string{}
	for _, identifier := range systemSettings.Order {
		metadata, exists := systemSettings.Available[identifier]
		if exists && metadata.Temporary {
			temporaryMetadata[identifier] = metadata
			temporaryOrder = append(temporaryOrder, identifier)
		}
	}

	systemSettings.Available = map[string]*RepositoryMetadata{}
	systemSettings.Excluded = map[string]*RepositoryMetadata{}
	systemSettings.Order = nil

	for identifier, metadata := range temporaryMetadata {
		systemSettings.Available[identifier] = metadata
	}
	systemSettings.Order = append(systemSettings.Order, temporaryOrder...)

	for _, decodedLine := range decodedLines {
		metadata := systemSettings.MetadataFromLine(decodedLine)
		if decodedLine.Disabled {
			systemSettings.Excluded[decodedLine.Identifier] = metadata
			continue
		}
		systemSettings.Available[decodedLine.Identifier] = metadata
		systemSettings.Order = append(systemSettings.Order, decodedLine.Identifier)
	}
	return nil
}

// MetadataFromLine expands a decoded configuration line into full repository
// metadata with derived local paths.
func (systemSettings *SystemSettings) MetadataFromLine(decodedLine repoconf.RepositoryLine) *RepositoryMetadata {
	databasePath := filepath.Join(systemSettings.DatabasesDirectory, decodedLine.Identifier)
	return &RepositoryMetadata{
		Identifier:              decodedLine.Identifier,
		Description:             decodedLine.Description,
		Mirrors:                 append([]string(nil), decodedLine.Mirrors...),
		DatabasePath:            databasePath,
		DatabaseURL:             decodedLine.DatabaseURL,
		DatabaseFormat:          decodedLine.DatabaseFormat,
		ServicePort:             decodedLine.ServicePort,
		SSLServicePort:          decodedLine.SSLServicePort,
		PostBranchSwitchScript:  filepath.Join(databasePath, PostBranchSwitchScriptNameConstant),
		PostBranchUpgradeScript: filepath.Join(databasePath, PostBranchUpgradeScriptNameConstant),
	}
}

// LineFromMetadata encodes repository metadata back into its wire form.
func LineFromMetadata(metadata *RepositoryMetadata) repoconf.RepositoryLine {
	return repoconf.RepositoryLine{
		Identifier:     metadata.Identifier,
		Description:    metadata.Description,
		Mirrors:        append([]string(nil), metadata.Mirrors...),
		DatabaseURL:    metadata.DatabaseURL,
		DatabaseFormat: metadata.DatabaseFormat,
		ServicePort:    metadata.ServicePort,
		SSLServicePort: metadata.SSLServicePort,
	}
}

// RepositoryMetadataByIdentifier looks up metadata in the available table
// first and the excluded table second.
func (systemSettings *SystemSettings) RepositoryMetadataByIdentifier(identifier string) (*RepositoryMetadata, bool) {
	if metadata, exists := systemSettings.Available[identifier]; exists {
		return metadata, true
	}
	metadata, exists := systemSettings.Excluded[identifier]
	return metadata, exists
}

// RemoveFromOrder deletes an identifier from the priority list without
// renumbering the remaining entries.
func (systemSettings *SystemSettings) RemoveFromOrder(identifier string) {
	retainedOrder := systemSettings.Order[:0]
	for _, orderedIdentifier := range systemSettings.Order {
		if orderedIdentifier == identifier {
			continue
		}
		retainedOrder = append(retainedOrder, orderedIdentifier)
	}
	systemSettings.Order = retainedOrder
}

// InsertInOrder places an identifier at the supplied priority position,
// clamping out-of-range positions.
func (systemSettings *SystemSettings) InsertInOrder(identifier string, position int) {
	systemSettings.RemoveFromOrder(identifier)
	if position < 0 {
		position = 0
	}
	if position > len(systemSettings.Order) {
		position = len(systemSettings.Order)
	}
	reordered := make([]string, 0, len(systemSettings.Order)+1)
	reordered = append(reordered, systemSettings.Order[:position]...)
	reordered = append(reordered, identifier)
	reordered = append(reordered, systemSettings.Order[position:]...)
	systemSettings.Order = reordered
}

// InvalidateMaskValidation clears the masking validation cache.
func (systemSettings *SystemSettings) InvalidateMaskValidation() {
	systemSettings.maskValidationCache = map[pkgdb.PackageMatch]bool{}
}

// CachedMaskValidation returns a cached masking verdict for a match.
func (systemSettings *SystemSettings) CachedMaskValidation(match pkgdb.PackageMatch) (bool, bool) {
	verdict, exists := systemSettings.maskValidationCache[match]
	return verdict, exists
}

// StoreMaskValidation caches a masking verdict for a match.
func (systemSettings *SystemSettings) StoreMaskValidation(match pkgdb.PackageMatch, masked bool) {
	systemSettings.maskValidationCache[match] = masked
}

// DatabaseFilePath returns the package database file location for metadata.
func (metadata *RepositoryMetadata) DatabaseFilePath() string {
	return filepath.Join(metadata.DatabasePath, DatabaseFileNameConstant)
}

// RevisionFilePath returns the revision file location for metadata.
func (metadata *RepositoryMetadata) RevisionFilePath() string {
	return filepath.Join(metadata.DatabasePath, RevisionFileNameConstant)
}
