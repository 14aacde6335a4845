package resourcelock_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kitepkg/kite/internal/resourcelock"
)

const (
	pidFileNameConstant       = "kite.lock"
	unlikelyProcessIDConstant = 4194300
)

func newTestManager(testInstance *testing.T) *resourcelock.Manager {
	testInstance.Helper()
	pidFilePath := filepath.Join(testInstance.TempDir(), pidFileNameConstant)
	return resourcelock.NewManager(pidFilePath, zap.NewNop())
}

func TestAcquireRecordsProcessID(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	acquired, acquireError := manager.Acquire()
	require.NoError(testInstance, acquireError)
	require.True(testInstance, acquired)
	defer manager.Release()

	pidBytes, readError := os.ReadFile(manager.PIDFilePath())
	require.NoError(testInstance, readError)
	require.Equal(testInstance, strconv.Itoa(os.Getpid()), string(pidBytes))
}

func TestAcquireIsReentrant(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	for acquisitionIndex := 0; acquisitionIndex < 3; acquisitionIndex++ {
		acquired, acquireError := manager.Acquire()
		require.NoError(testInstance, acquireError)
		require.True(testInstance, acquired)
	}
	require.Equal(testInstance, 3, manager.HeldCount())

	manager.Release()
	manager.Release()
	require.Equal(testInstance, 1, manager.HeldCount())
	_, statError := os.Stat(manager.PIDFilePath())
	require.NoError(testInstance, statError)

	manager.Release()
	require.Equal(testInstance, 0, manager.HeldCount())
	_, statError = os.Stat(manager.PIDFilePath())
	require.True(testInstance, os.IsNotExist(statError))
}

func TestReleaseWithoutAcquireIsHarmless(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	manager.Release()
	require.Equal(testInstance, 0, manager.HeldCount())
}

func TestIsLockedIgnoresOwnProcess(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	acquired, acquireError := manager.Acquire()
	require.NoError(testInstance, acquireError)
	require.True(testInstance, acquired)
	defer manager.Release()

	require.False(testInstance, manager.IsLocked())
}

func TestIsLockedHandlesPIDFileStates(testInstance *testing.T) {
	testCases := []struct {
		name       string
		pidContent string
		expected   bool
	}{
		{name: "missing_file", pidContent: "", expected: false},
		{name: "garbage_content", pidContent: "not-a-pid", expected: false},
		{name: "stale_process", pidContent: strconv.Itoa(unlikelyProcessIDConstant), expected: false},
		{name: "live_foreign_process", pidContent: "1", expected: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(strconv.Itoa(testCaseIndex)+"_"+testCase.name, func(testInstance *testing.T) {
			manager := newTestManager(testInstance)
			if len(testCase.pidContent) > 0 {
				require.NoError(testInstance, os.WriteFile(manager.PIDFilePath(), []byte(testCase.pidContent), 0o664))
			}
			require.Equal(testInstance, testCase.expected, manager.IsLocked())
		})
	}
}

func TestWaitUntilUnlockedImmediateSuccess(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	unlocked := manager.WaitUntilUnlocked(func() bool { return false }, resourcelock.WaitOptions{
		MaximumAttempts: 3,
		PollInterval:    time.Nanosecond,
		GracePeriod:     time.Nanosecond,
	})
	require.True(testInstance, unlocked)
}

func TestWaitUntilUnlockedAfterRelease(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	remainingLockedObservations := 2
	unlocked := manager.WaitUntilUnlocked(func() bool {
		if remainingLockedObservations > 0 {
			remainingLockedObservations--
			return true
		}
		return false
	}, resourcelock.WaitOptions{
		MaximumAttempts: 10,
		PollInterval:    time.Nanosecond,
		GracePeriod:     time.Nanosecond,
	})
	require.True(testInstance, unlocked)
	require.Zero(testInstance, remainingLockedObservations)
}

func TestWaitUntilUnlockedGivesUp(testInstance *testing.T) {
	manager := newTestManager(testInstance)

	observationCount := 0
	unlocked := manager.WaitUntilUnlocked(func() bool {
		observationCount++
		return true
	}, resourcelock.WaitOptions{
		MaximumAttempts: 4,
		PollInterval:    time.Nanosecond,
		GracePeriod:     time.Nanosecond,
	})
	require.False(testInstance, unlocked)
	require.Equal(testInstance, 5, observationCount)
}
