package maintenance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreReadAfterWrite(t *testing.T) {
	s := New(false)
	assert.False(t, s.Enabled())

	// The very next read after Set must observe the new value.
	s.Set(true)
	assert.True(t, s.Enabled())

	s.Set(false)
	assert.False(t, s.Enabled())
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := New(false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = s.Enabled()
			}
		}()
	}
	for i := 0; i < 100; i++ {
		s.Set(i%2 == 0)
	}
	wg.Wait()

	s.Set(true)
	assert.True(t, s.Enabled())
}

func TestTruthyEnv(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", " Yes "} {
		assert.True(t, TruthyEnv(v), v)
	}
	for _, v := range []string{"", "0", "false", "no", "off", "enabled"} {
		assert.False(t, TruthyEnv(v), v)
	}
}

func TestStoreReloadFromEnv(t *testing.T) {
	s := New(false)

	t.Setenv(EnvVar, "true")
	s.Reload()
	assert.True(t, s.Enabled())

	t.Setenv(EnvVar, "false")
	s.Reload()
	assert.False(t, s.Enabled())
}
