package registry

import (
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
)

const (
	repositoryUnavailableMessageConstant = "repository database not available, not downloaded yet?"
	repositoryCorruptedMessageConstant   = "repository database corrupted, skipping"
)

// ValidateRepositories rebuilds the enabled identifier list by probing every
// ordered repository. Unavailable or corrupted repositories are dropped from
// the enabled list with a diagnostic emitted at most once per identifier;
// quiet suppresses the diagnostics entirely. Cached mask validation results
// are invalidated and the probe connections released.
func (service *Service) ValidateRepositories(quiet bool) {
	service.settings.InvalidateMaskValidation()
	service.enabledIdentifiers = service.enabledIdentifiers[:0]

	for _, identifier := range service.settings.Order {
		probeHandle, openError := service.OpenRepository(identifier)
		if openError != nil {
			failureMessage := repositoryUnavailableMessageConstant
			if pkgdb.IsCorrupted(openError) {
				failureMessage = repositoryCorruptedMessageConstant
			}
			service.diagnoseFailure(identifier, failureMessage, openError, quiet)
			continue
		}
		if validationError := probeHandle.ValidateDatabase(); validationError != nil {
			service.diagnoseFailure(identifier, repositoryCorruptedMessageConstant, validationError, quiet)
			continue
		}
		service.enabledIdentifiers = append(service.enabledIdentifiers, identifier)
	}

	service.CloseAllRepositories(false)
}

func (service *Service) diagnoseFailure(identifier string, message string, failure error, quiet bool) {
	if quiet {
		return
	}
	if _, alreadyDiagnosed := service.diagnosedFailures[identifier]; alreadyDiagnosed {
		return
	}
	service.diagnosedFailures[identifier] = struct{}{}
	service.logger.Warn(message,
		zap.String(logFieldRepositoryConstant, identifier), zap.Error(failure))
}
