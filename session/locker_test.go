package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/craftbot/session"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	locks := session.NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("sess")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	locks := session.NewKeyedMutex()

	unlockA := locks.Lock("a")
	defer unlockA()

	unlockB, ok := locks.TryLock("b")
	require.True(t, ok)
	unlockB()
}

func TestKeyedMutex_TryLock(t *testing.T) {
	locks := session.NewKeyedMutex()

	unlock := locks.Lock("sess")
	_, ok := locks.TryLock("sess")
	assert.False(t, ok)
	assert.Equal(t, 1, locks.Len())

	unlock()
	assert.Equal(t, 0, locks.Len())

	unlock, ok = locks.TryLock("sess")
	require.True(t, ok)
	unlock()
	assert.Equal(t, 0, locks.Len())
}
