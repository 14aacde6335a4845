package resourcelock

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaximumAttemptsConstant = 600
	defaultPollIntervalConstant    = 500 * time.Millisecond
	defaultGracePeriodConstant     = 5 * time.Second

	resourcesUnlockedMessageConstant = "resources unlocked, proceeding"
	resourcesLockedMessageConstant   = "resources locked, waiting"
	waitGaveUpMessageConstant        = "resources still locked, giving up"
	logFieldAttemptConstant          = "attempt"
	logFieldMaximumAttemptsConstant  = "maximum_attempts"
	logFieldWaitedMinutesConstant    = "waited_minutes"
)

// WaitOptions tunes the bounded polling wait. The zero value selects the
// production cadence: 600 attempts every half second with a five second
// grace period after observing a release.
type WaitOptions struct {
	MaximumAttempts int
	PollInterval    time.Duration
	GracePeriod     time.Duration
}

func (options WaitOptions) withDefaults() WaitOptions {
	if options.MaximumAttempts <= 0 {
		options.MaximumAttempts = defaultMaximumAttemptsConstant
	}
	if options.PollInterval <= 0 {
		options.PollInterval = defaultPollIntervalConstant
	}
	if options.GracePeriod <= 0 {
		options.GracePeriod = defaultGracePeriodConstant
	}
	return options
}

// WaitUntilUnlocked polls checkFunction until it observes an unlocked state,
// reporting progress on every locked observation. It returns true once
// unlocked and false after exhausting the attempt budget. When the lock was
// observed held at least once, a short grace period lets the releasing
// process fully exit before success is declared.
func (manager *Manager) WaitUntilUnlocked(checkFunction func() bool, options WaitOptions) bool {
	options = options.withDefaults()

	attemptCount := 0
	for {
		locked := checkFunction()
		if !locked {
			if attemptCount > 0 {
				manager.logger.Info(resourcesUnlockedMessageConstant,
					zap.String(logFieldLockPathConstant, manager.pidFilePath))
				time.Sleep(options.GracePeriod)
			}
			return true
		}

		if attemptCount >= options.MaximumAttempts {
			waitedMinutes := float64(options.MaximumAttempts) * options.PollInterval.Minutes()
			manager.logger.Warn(waitGaveUpMessageConstant,
				zap.String(logFieldLockPathConstant, manager.pidFilePath),
				zap.Float64(logFieldWaitedMinutesConstant, waitedMinutes))
			return false
		}

		attemptCount++
		manager.logger.Info(resourcesLockedMessageConstant,
			zap.String(logFieldLockPathConstant, manager.pidFilePath),
			zap.Int(logFieldAttemptConstant, attemptCount),
			zap.Int(logFieldMaximumAttemptsConstant, options.MaximumAttempts))
		time.Sleep(options.PollInterval)
	}
}
