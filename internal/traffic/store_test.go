package traffic

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePublishAndRead(t *testing.T) {
	s := NewStore()
	assert.Empty(t, s.Read())

	s.Publish("port 53", Snapshot{Total: 10, Len: 5, Timestamp: 1})
	s.Publish("port 53", Snapshot{Total: 20, Len: 10, Timestamp: 2})

	got := s.Read()
	require.Len(t, got, 1)
	assert.Equal(t, Snapshot{Total: 20, Len: 10, Timestamp: 2}, got["port 53"])

	snap, ok := s.Get("port 53")
	assert.True(t, ok)
	assert.Equal(t, uint64(20), snap.Total)

	_, ok = s.Get("port 80")
	assert.False(t, ok)
}

func TestStoreReadReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Publish("tcp", Snapshot{Total: 1})

	got := s.Read()
	got["tcp"] = Snapshot{Total: 99}
	delete(got, "tcp")

	snap, ok := s.Get("tcp")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Total)
}

func TestStoreTryReadUnderContention(t *testing.T) {
	s := NewStore()
	s.Publish("tcp", Snapshot{Total: 1})

	s.mu.Lock()
	data, ok := s.TryRead()
	s.mu.Unlock()
	assert.False(t, ok)
	assert.Nil(t, data)

	data, ok = s.TryRead()
	assert.True(t, ok)
	assert.Equal(t, s.Read(), data)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for i := range 4 {
		wg.Add(1)
		go func(rule string) {
			defer wg.Done()
			var snap Snapshot
			for range 500 {
				snap.Total += 2
				snap.Len = 2
				s.Publish(rule, snap)
			}
		}(string(rune('a' + i)))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 500 {
			if data, ok := s.TryRead(); ok {
				for _, snap := range data {
					assert.Zero(t, snap.Total%2)
				}
			}
		}
	}()
	wg.Wait()

	data := s.Read()
	require.Len(t, data, 4)
	for rule, snap := range data {
		assert.Equal(t, uint64(1000), snap.Total, rule)
	}
}
