package match

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/kitepkg/kite/internal/pkgdb"
	"github.com/kitepkg/kite/internal/settings"
)

// Method selects how a mask or unmask entry identifies its package.
type Method int

const (
	// MethodAtom writes the full package atom into the mask file.
	MethodAtom Method = iota
	// MethodKeySlot writes the key:slot composite into the mask file.
	MethodKeySlot
)

const (
	maskFileCommentPrefixConstant = "#"
	maskFilePermissionsConstant   = 0o644
	maskFileTempPatternConstant   = ".kite-maskfile-*"
)

// packageLineForms returns every textual form under which a package may
// appear in a mask or unmask file.
type packageLineForms struct {
	atom    string
	key     string
	keySlot string
}

func (forms packageLineForms) contains(line string) bool {
	return line == forms.atom || line == forms.key || line == forms.keySlot
}

func (forms packageLineForms) lineFor(method Method) string {
	if method == MethodKeySlot {
		return forms.keySlot
	}
	return forms.atom
}

func (engine *Engine) lineFormsFor(match pkgdb.PackageMatch) (packageLineForms, error) {
	handle, resolveError := engine.resolver.OpenRepository(match.RepositoryID)
	if resolveError != nil {
		return packageLineForms{}, resolveError
	}
	packageAtom, atomError := handle.Atom(match.PackageID)
	if atomError != nil {
		return packageLineForms{}, atomError
	}
	packageKeySlot, keySlotError := handle.KeySlot(match.PackageID)
	if keySlotError != nil {
		return packageLineForms{}, keySlotError
	}
	return packageLineForms{
		atom:    packageAtom,
		key:     packageKeySlot.Key,
		keySlot: packageKeySlot.String(),
	}, nil
}

// Mask hides a package from resolution. The package's entries are stripped
// from the unmask file and the selected form is appended to the mask file.
// The live overlay records the mask immediately; with dryRun set, only the
// overlay changes and the files stay untouched.
func (engine *Engine) Mask(match pkgdb.PackageMatch, method Method, dryRun bool) error {
	lineForms, formsError := engine.lineFormsFor(match)
	if formsError != nil {
		return formsError
	}

	engine.settings.LiveMasking.AddMask(match)
	engine.settings.InvalidateMaskValidation()
	if dryRun {
		return nil
	}

	if stripError := stripMatchingLines(engine.settings.UnmaskFilePath, lineForms); stripError != nil {
		return stripError
	}
	return appendMaskLine(engine.settings.MaskFilePath, lineForms, method)
}

// Unmask reveals a masked package. The package's entries are stripped from
// the mask file and the selected form is appended to the unmask file. The
// live overlay records the unmask immediately; with dryRun set, only the
// overlay changes.
func (engine *Engine) Unmask(match pkgdb.PackageMatch, method Method, dryRun bool) error {
	lineForms, formsError := engine.lineFormsFor(match)
	if formsError != nil {
		return formsError
	}

	engine.settings.LiveMasking.AddUnmask(match)
	engine.settings.InvalidateMaskValidation()
	if dryRun {
		return nil
	}

	if stripError := stripMatchingLines(engine.settings.MaskFilePath, lineForms); stripError != nil {
		return stripError
	}
	return appendMaskLine(engine.settings.UnmaskFilePath, lineForms, method)
}

// ClearMaskState removes every form of the package from both mask files and
// from the live overlay.
func (engine *Engine) ClearMaskState(match pkgdb.PackageMatch, dryRun bool) error {
	lineForms, formsError := engine.lineFormsFor(match)
	if formsError != nil {
		return formsError
	}

	engine.settings.LiveMasking.Discard(match)
	engine.settings.InvalidateMaskValidation()
	if dryRun {
		return nil
	}

	if stripError := stripMatchingLines(engine.settings.MaskFilePath, lineForms); stripError != nil {
		return stripError
	}
	return stripMatchingLines(engine.settings.UnmaskFilePath, lineForms)
}

// IsMasked reports whether a package is hidden from resolution. Verdicts are
// cached per match until settings or mask state change.
func (engine *Engine) IsMasked(match pkgdb.PackageMatch, live bool) (bool, error) {
	if cachedVerdict, cached := engine.settings.CachedMaskValidation(match); cached {
		return cachedVerdict, nil
	}

	maskedVerdict, _, evaluationError := engine.evaluateMask(match, live)
	if evaluationError != nil {
		return false, evaluationError
	}
	engine.settings.StoreMaskValidation(match, maskedVerdict)
	return maskedVerdict, nil
}

// MaskReason reports why a package is masked, or MaskReasonNone when it is
// visible. Unlike IsMasked, the verdict is recomputed every call.
func (engine *Engine) MaskReason(match pkgdb.PackageMatch, live bool) (settings.MaskReason, error) {
	_, maskReason, evaluationError := engine.evaluateMask(match, live)
	return maskReason, evaluationError
}

// IsMaskedByUser reports whether the package's mask verdict comes from a
// user-controlled mask source. The verdict is recomputed every call.
func (engine *Engine) IsMaskedByUser(match pkgdb.PackageMatch, live bool) (bool, error) {
	_, maskReason, evaluationError := engine.evaluateMask(match, live)
	if evaluationError != nil {
		return false, evaluationError
	}
	return reasonListed(maskReason, settings.UserMaskReasons()), nil
}

// IsUnmaskedByUser reports whether the package's visibility comes from a
// user-controlled unmask source.
func (engine *Engine) IsUnmaskedByUser(match pkgdb.PackageMatch, live bool) (bool, error) {
	_, maskReason, evaluationError := engine.evaluateMask(match, live)
	if evaluationError != nil {
		return false, evaluationError
	}
	return reasonListed(maskReason, settings.UserUnmaskReasons()), nil
}

func reasonListed(maskReason settings.MaskReason, reasons []settings.MaskReason) bool {
	for _, listedReason := range reasons {
		if maskReason == listedReason {
			return true
		}
	}
	return false
}

// PackageValidatorFor builds the per-repository validator installed on freshly
// opened database handles. Masked entries resolve to the unknown-package
// sentinel carrying their masking reason code; evaluation failures leave the
// entry visible.
func (engine *Engine) PackageValidatorFor(repositoryID string) pkgdb.ValidatorFunc {
	return func(packageID int64, live bool) (int64, pkgdb.ReasonCode) {
		packageMatch := pkgdb.PackageMatch{PackageID: packageID, RepositoryID: repositoryID}
		masked, maskReason, evaluationError := engine.evaluateMask(packageMatch, live)
		if evaluationError != nil || !masked {
			return packageID, pkgdb.ReasonCode(settings.MaskReasonNone)
		}
		return pkgdb.UnknownPackageID, pkgdb.ReasonCode(maskReason)
	}
}

// evaluateMask applies the visibility layers in precedence order: the live
// overlay, the persisted unmask file, the persisted mask file, license
// acceptance.
func (engine *Engine) evaluateMask(match pkgdb.PackageMatch, live bool) (bool, settings.MaskReason, error) {
	if live {
		if _, liveMasked := engine.settings.LiveMasking.MaskMatches[match]; liveMasked {
			return true, settings.MaskReasonUserLiveMask, nil
		}
		if _, liveUnmasked := engine.settings.LiveMasking.UnmaskMatches[match]; liveUnmasked {
			return false, settings.MaskReasonUserLiveUnmask, nil
		}
	}

	lineForms, formsError := engine.lineFormsFor(match)
	if formsError != nil {
		return false, settings.MaskReasonNone, formsError
	}

	unmaskListed, unmaskReadError := fileListsPackage(engine.settings.UnmaskFilePath, lineForms)
	if unmaskReadError != nil {
		return false, settings.MaskReasonNone, unmaskReadError
	}
	if unmaskListed {
		return false, settings.MaskReasonUserPackageUnmask, nil
	}

	maskListed, maskReadError := fileListsPackage(engine.settings.MaskFilePath, lineForms)
	if maskReadError != nil {
		return false, settings.MaskReasonNone, maskReadError
	}
	if maskListed {
		return true, settings.MaskReasonUserPackageMask, nil
	}

	outstandingLicenses, licenseError := engine.LicensesToAccept(match)
	if licenseError != nil {
		return false, settings.MaskReasonNone, licenseError
	}
	if len(outstandingLicenses) > 0 {
		return true, settings.MaskReasonUserLicenseMask, nil
	}

	return false, settings.MaskReasonNone, nil
}

func fileListsPackage(filePath string, lineForms packageLineForms) (bool, error) {
	fileLines, readError := readMaskFileLines(filePath)
	if readError != nil {
		return false, readError
	}
	for _, fileLine := range fileLines {
		if lineForms.contains(fileLine) {
			return true, nil
		}
	}
	return false, nil
}

func readMaskFileLines(filePath string) ([]string, error) {
	maskFile, openError := os.Open(filePath)
	if openError != nil {
		if os.IsNotExist(openError) {
			return nil, nil
		}
		return nil, openError
	}
	defer maskFile.Close()

	var fileLines []string
	lineScanner := bufio.NewScanner(maskFile)
	for lineScanner.Scan() {
		fileLines = append(fileLines, strings.TrimSpace(lineScanner.Text()))
	}
	return fileLines, lineScanner.Err()
}

// stripMatchingLines rewrites the file without any line naming the package.
// Comment lines pass through untouched.
func stripMatchingLines(filePath string, lineForms packageLineForms) error {
	fileLines, readError := readMaskFileLines(filePath)
	if readError != nil {
		return readError
	}
	if fileLines == nil {
		return nil
	}

	retainedLines := make([]string, 0, len(fileLines))
	for _, fileLine := range fileLines {
		if !strings.HasPrefix(fileLine, maskFileCommentPrefixConstant) && lineForms.contains(fileLine) {
			continue
		}
		retainedLines = append(retainedLines, fileLine)
	}
	return writeMaskFileLines(filePath, retainedLines)
}

// appendMaskLine adds the selected package form unless an equivalent line is
// already present.
func appendMaskLine(filePath string, lineForms packageLineForms, method Method) error {
	fileLines, readError := readMaskFileLines(filePath)
	if readError != nil {
		return readError
	}
	for _, fileLine := range fileLines {
		if lineForms.contains(fileLine) {
			return nil
		}
	}
	return writeMaskFileLines(filePath, append(fileLines, lineForms.lineFor(method)))
}

// writeMaskFileLines rewrites the file atomically through a temporary file
// and rename in the same directory.
func writeMaskFileLines(filePath string, fileLines []string) error {
	parentDirectory := filepath.Dir(filePath)
	if directoryError := os.MkdirAll(parentDirectory, 0o755); directoryError != nil {
		return directoryError
	}

	temporaryFile, temporaryError := os.CreateTemp(parentDirectory, maskFileTempPatternConstant)
	if temporaryError != nil {
		return temporaryError
	}
	temporaryPath := temporaryFile.Name()

	for _, fileLine := range fileLines {
		if _, writeError := temporaryFile.WriteString(fileLine + "\n"); writeError != nil {
			temporaryFile.Close()
			os.Remove(temporaryPath)
			return writeError
		}
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return syncError
	}
	if chmodError := temporaryFile.Chmod(maskFilePermissionsConstant); chmodError != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return chmodError
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		os.Remove(temporaryPath)
		return closeError
	}
	return os.Rename(temporaryPath, filePath)
}
