package turns

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocksSerializeSameKey(t *testing.T) {
	locks := newSessionLocks()

	const workers = 16
	var inCritical, maxInCritical int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("session-a")
			defer unlock()

			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			mu.Unlock()

			mu.Lock()
			inCritical--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "same-key holders must never overlap")
}

func TestSessionLocksCleanUpAfterRelease(t *testing.T) {
	locks := newSessionLocks()

	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	unlockA()
	unlockB()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks, "released sessions must not leak entries")
}
