package match

import (
	"sort"

	"github.com/kitepkg/kite/internal/pkgdb"
)

// globalLicenseWhitelistKeyConstant keys the whitelist entry applied to every
// repository.
const globalLicenseWhitelistKeyConstant = "*"

// LicensesToAccept lists the licenses of a package that are neither globally
// accepted, whitelisted for the package's repository, nor recorded as
// accepted in installed package state. The list is sorted.
func (engine *Engine) LicensesToAccept(match pkgdb.PackageMatch) ([]string, error) {
	handle, resolveError := engine.resolver.OpenRepository(match.RepositoryID)
	if resolveError != nil {
		return nil, resolveError
	}
	licenseKeys, licenseError := handle.LicenseDataKeys(match.PackageID)
	if licenseError != nil {
		return nil, licenseError
	}

	var outstandingLicenses []string
	for _, licenseName := range licenseKeys {
		if _, accepted := engine.settings.AcceptedLicenses[licenseName]; accepted {
			continue
		}
		if engine.isLicenseWhitelisted(match.RepositoryID, licenseName) {
			continue
		}
		recordedAccepted, recordError := engine.installedDatabase.IsLicenseAccepted(licenseName)
		if recordError != nil {
			return nil, recordError
		}
		if recordedAccepted {
			continue
		}
		outstandingLicenses = append(outstandingLicenses, licenseName)
	}

	sort.Strings(outstandingLicenses)
	return outstandingLicenses, nil
}

// IsPackageFree reports whether every license of the package is already
// accepted.
func (engine *Engine) IsPackageFree(match pkgdb.PackageMatch) (bool, error) {
	outstandingLicenses, licenseError := engine.LicensesToAccept(match)
	if licenseError != nil {
		return false, licenseError
	}
	return len(outstandingLicenses) == 0, nil
}

// AcceptLicenses records license acceptances in installed package state and
// invalidates cached masking verdicts, since license gating feeds visibility.
func (engine *Engine) AcceptLicenses(licenseNames []string) error {
	for _, licenseName := range licenseNames {
		if acceptError := engine.installedDatabase.AcceptLicense(licenseName); acceptError != nil {
			return acceptError
		}
	}
	engine.settings.InvalidateMaskValidation()
	return nil
}

func (engine *Engine) isLicenseWhitelisted(repositoryID string, licenseName string) bool {
	for _, whitelistKey := range []string{repositoryID, globalLicenseWhitelistKeyConstant} {
		for _, whitelistedLicense := range engine.settings.LicenseWhitelists[whitelistKey] {
			if whitelistedLicense == licenseName || whitelistedLicense == globalLicenseWhitelistKeyConstant {
				return true
			}
		}
	}
	return false
}
