package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassLocksSerializeSameClass(t *testing.T) {
	locks := NewClassLocks(8)

	const goroutines = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			unlock := locks.Lock("class-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestClassLocksStableShard(t *testing.T) {
	locks := NewClassLocks(16)
	assert.Equal(t, locks.shardFor("class-1"), locks.shardFor("class-1"))
}

func TestClassLocksDefaultShardCount(t *testing.T) {
	locks := NewClassLocks(0)
	assert.Len(t, locks.shards, 64)
}
