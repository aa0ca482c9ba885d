/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package hostcache

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// InsertOrAssign maps key to alias until ttl from now, replacing any
// existing entry for key. It reports whether key was newly inserted.
//
// The TTL is rounded up to whole seconds. The expiration is fixed at write
// time; lookups never extend it.
func (c *Cache) InsertOrAssign(key, alias string, ttl time.Duration) (bool, error) {
	if len(key) == 0 || len(key) > MaxHostnameLen {
		return false, fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if len(alias) > MaxHostnameLen {
		return false, fmt.Errorf("%w: length %d", ErrAliasTooLong, len(alias))
	}
	if i := strings.IndexByte(alias, 0); i >= 0 {
		return false, fmt.Errorf("%w: at byte %d", ErrInvalidAlias, i)
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: %v", ErrInvalidTTL, ttl)
	}
	ttlSeconds := int64((ttl + time.Second - 1) / time.Second)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return false, ErrNotInitialized
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	expiration := c.now().Unix() + ttlSeconds
	inserted, err := c.m.insertOrAssign([]byte(key), alias, expiration, ttlSeconds)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrCacheFull, err)
	}
	return inserted, nil
}

// Lookup returns the alias stored for key if it has not expired. An expired
// entry is reported as missing but stays in the cache until EraseExpired,
// Erase or Clear removes it.
func (c *Cache) Lookup(key string) (string, bool) {
	if len(key) == 0 || len(key) > MaxHostnameLen {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return "", false
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	t := c.m.find([]byte(key))
	if t == 0 {
		return "", false
	}
	e := &c.m.node(t).entry
	if !e.live(c.now().Unix()) {
		return "", false
	}
	return e.alias(), true
}

// Erase removes key. Erasing a missing key is a no-op.
func (c *Cache) Erase(key string) {
	if len(key) == 0 || len(key) > MaxHostnameLen {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.m.erase([]byte(key))
}

// EraseExpired removes every entry whose expiration is at or before now and
// returns how many were removed.
func (c *Cache) EraseExpired() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return 0
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now().Unix()
	return c.m.eraseIf(func(e *entry) bool {
		return !e.live(now)
	})
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.m.reset()
}

// Size returns the number of stored entries, expired ones included.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return 0
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.m.count()
}

// AvailableMemory returns the number of free bytes left in the segment heap.
func (c *Cache) AvailableMemory() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.seg == nil {
		return 0
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.seg.FreeBytes()
}

// Stats is a point-in-time view of a cache segment.
type Stats struct {
	Name        string `json:"name"`
	Entries     int    `json:"entries"`
	SegmentSize uint64 `json:"segment_size"`
	HeapSize    uint64 `json:"heap_size"`
	FreeBytes   uint64 `json:"free_bytes"`
	OwnerPID    int    `json:"owner_pid"`
	Owner       bool   `json:"owner"`
}

// Stats returns a consistent snapshot of the segment's counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return Stats{Name: c.name}
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	return Stats{
		Name:        c.name,
		Entries:     c.m.count(),
		SegmentSize: c.seg.Size(),
		HeapSize:    c.seg.HeapSize(),
		FreeBytes:   c.seg.FreeBytes(),
		OwnerPID:    c.seg.OwnerPID(),
		Owner:       c.ownerPID == os.Getpid(),
	}
}

// Range calls fn for every entry, expired ones included, in key order until
// fn returns false. Entries are copied under the shared lock and fn runs
// after it is released, so fn may call back into c; changes it makes are not
// reflected in the remaining calls.
func (c *Cache) Range(fn func(key string, e Entry) bool) {
	for _, kv := range c.snapshot() {
		if !fn(kv.key, kv.entry) {
			return
		}
	}
}

type keyedEntry struct {
	key   string
	entry Entry
}

// snapshot copies every entry out of shared memory in key order.
func (c *Cache) snapshot() []keyedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.m == nil {
		return nil
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	entries := make([]keyedEntry, 0, c.m.count())
	c.m.walk(func(off uint64) bool {
		entries = append(entries, keyedEntry{
			key:   string(c.m.key(off)),
			entry: c.m.node(off).entry.export(),
		})
		return true
	})
	return entries
}
