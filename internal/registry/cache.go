package registry

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/pkgdb"
)

const (
	logFieldRepositoryConstant       = "repository"
	closeHandleFailedMessageConstant = "closing repository database handle failed"
	apiCheckFailedMessageConstant    = "repository database API check failed"
	syncHookFailedMessageConstant    = "package source synchronization hook failed"
	openUnknownErrorTemplateConstant = "%w: %s"
)

// IsConnectionCached reports whether an open handle for the identifier sits
// in the connection cache for the current system root.
func (service *Service) IsConnectionCached(identifier string) bool {
	_, cached := service.connectionCache[service.cacheKeyFor(identifier)]
	return cached
}

// OpenRepository returns the cached database handle for the identifier,
// opening and caching one when absent. Opening a durable repository under
// sufficient privilege triggers the package source synchronization hook once
// per identifier; when the hook reports changes, the world-update and
// critical-update result caches are invalidated.
func (service *Service) OpenRepository(identifier string) (pkgdb.Repository, error) {
	if identifier == InstalledRepositoryID {
		return service.installedDatabase, nil
	}

	cacheKey := service.cacheKeyFor(identifier)
	if cachedHandle, cached := service.connectionCache[cacheKey]; cached {
		return cachedHandle, nil
	}

	metadata, known := service.settings.Available[identifier]
	if !known {
		return nil, fmt.Errorf(openUnknownErrorTemplateConstant, ErrUnknownRepository, identifier)
	}

	if metadata.Temporary {
		memoryHandle, exists := service.memoryInstances[cacheKey]
		if !exists {
			return nil, fmt.Errorf(openUnknownErrorTemplateConstant, pkgdb.ErrRepositoryNotAvailable, identifier)
		}
		service.installMaskValidator(identifier, memoryHandle)
		service.connectionCache[cacheKey] = memoryHandle
		return memoryHandle, nil
	}

	durableHandle, openError := service.opener.OpenDurable(metadata.DatabaseFilePath())
	if openError != nil {
		return nil, openError
	}

	if apiError := durableHandle.CheckDatabaseAPI(); apiError != nil {
		service.logger.Warn(apiCheckFailedMessageConstant,
			zap.String(logFieldRepositoryConstant, identifier), zap.Error(apiError))
	}

	service.runSyncHook(identifier, durableHandle)
	service.installMaskValidator(identifier, durableHandle)

	service.connectionCache[cacheKey] = durableHandle
	return durableHandle, nil
}

func (service *Service) installMaskValidator(identifier string, handle pkgdb.Repository) {
	if service.maskValidatorProvider == nil {
		return
	}
	handle.SetPackageValidator(service.maskValidatorProvider(identifier))
}

// CloseAllRepositories flushes the connection cache. In-memory handles stay
// open; only RemoveRepository destroys those. When clearSettings is set, the
// system settings reload from disk with settings change hooks suspended.
func (service *Service) CloseAllRepositories(clearSettings bool) {
	cacheKeys := make([]CacheKey, 0, len(service.connectionCache))
	for cacheKey := range service.connectionCache {
		cacheKeys = append(cacheKeys, cacheKey)
	}
	sort.Slice(cacheKeys, func(firstIndex, secondIndex int) bool {
		return cacheKeys[firstIndex].RepositoryID < cacheKeys[secondIndex].RepositoryID
	})

	for _, cacheKey := range cacheKeys {
		if _, isMemoryInstance := service.memoryInstances[cacheKey]; isMemoryInstance {
			delete(service.connectionCache, cacheKey)
			continue
		}
		if closeError := service.connectionCache[cacheKey].Close(); closeError != nil {
			service.logger.Warn(closeHandleFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, cacheKey.RepositoryID), zap.Error(closeError))
		}
		delete(service.connectionCache, cacheKey)
	}

	if clearSettings {
		restoreHooks := service.settings.SuspendChangeHooks()
		service.reloadSettings()
		restoreHooks()
	}
}

func (service *Service) runSyncHook(identifier string, handle pkgdb.Repository) {
	if service.syncHook == nil || IsDynamicIdentifier(identifier) {
		return
	}
	if !service.privilegeChecker() {
		return
	}
	if _, alreadySynced := service.syncedRepositories[identifier]; alreadySynced {
		return
	}
	service.syncedRepositories[identifier] = struct{}{}

	stateChanged, hookError := service.syncHook(identifier, handle)
	if hookError != nil {
		service.logger.Warn(syncHookFailedMessageConstant,
			zap.String(logFieldRepositoryConstant, identifier), zap.Error(hookError))
		return
	}
	if stateChanged {
		service.invalidateResultCaches()
	}
}
