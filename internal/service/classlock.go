package service

import (
	"hash/fnv"
	"sync"
)

// ClassLocks provides the per-class mutual-exclusion scope every ledger or
// queue mutation runs under. Locks are sharded by class ID hash, so distinct
// classes proceed in parallel while one class's mutations serialize.
type ClassLocks struct {
	shards []sync.Mutex
}

// NewClassLocks builds a sharded lock set. Shard count defaults to 64.
func NewClassLocks(shards int) *ClassLocks {
	if shards <= 0 {
		shards = 64
	}
	return &ClassLocks{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the scope for a class and returns its release func.
func (l *ClassLocks) Lock(classID string) func() {
	shard := &l.shards[l.shardFor(classID)]
	shard.Lock()
	return shard.Unlock
}

func (l *ClassLocks) shardFor(classID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(classID))
	return int(h.Sum32() % uint32(len(l.shards)))
}
