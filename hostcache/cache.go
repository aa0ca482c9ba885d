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
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/grpclog"

	"github.com/shmkit/shmcache/internal/shm"
)

var logger = grpclog.Component("hostcache")

// mutexSuffix names the lock object that accompanies a segment.
const mutexSuffix = "_mutex"

var (
	// ErrInitFailed wraps every failure to create a segment or its lock.
	ErrInitFailed = errors.New("hostcache: initialization failed")

	// ErrNotInitialized is returned by mutating calls on a Cache that has
	// neither been initialized nor attached.
	ErrNotInitialized = errors.New("hostcache: not initialized")

	// ErrCacheFull is returned when the segment heap cannot fit a new entry.
	// Callers recover capacity with EraseExpired or Clear.
	ErrCacheFull = errors.New("hostcache: cache full")

	// ErrInvalidKey is returned for empty keys or keys longer than MaxHostnameLen.
	ErrInvalidKey = errors.New("hostcache: invalid key")

	// ErrAliasTooLong is returned for aliases longer than MaxHostnameLen.
	ErrAliasTooLong = errors.New("hostcache: alias too long")

	// ErrInvalidAlias is returned for aliases containing a NUL byte, which
	// terminates the stored alias.
	ErrInvalidAlias = errors.New("hostcache: alias contains NUL")

	// ErrInvalidTTL is returned for non-positive TTLs.
	ErrInvalidTTL = errors.New("hostcache: ttl must be positive")

	// ErrInvalidName is returned for segment names that cannot name a
	// shared memory object.
	ErrInvalidName = errors.New("hostcache: invalid segment name")
)

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.clock = now
	}
}

// WithDir places the segment and lock objects in dir instead of /dev/shm.
// Every cooperating process must use the same dir.
func WithDir(dir string) Option {
	return func(c *Cache) {
		c.dir = dir
	}
}

// Cache is a hostname → alias cache stored in a named shared memory segment.
//
// One process calls Init and becomes the owner; it alone may tear the
// segment down with Deinit. Other processes call Attach. Every operation
// takes the segment's named lock, so a Cache is safe for concurrent use by
// goroutines and by other processes sharing the segment.
type Cache struct {
	// mu guards the process-local handles below against Init, Deinit and
	// Close; the shared data is guarded by lock.
	mu       sync.RWMutex
	ownerPID int
	name     string
	seg      *shm.Segment
	lock     *shm.RWLock
	m        *aliasMap

	dir   string
	clock func() time.Time
	sf    singleflight.Group
}

// New returns an uninitialized Cache. Call Init or use Attach.
func New(opts ...Option) *Cache {
	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach maps the segment called name, created by another process's Init,
// and its lock. The returned Cache never owns the segment: Deinit on it is a
// no-op and Close releases only this process's mappings.
func Attach(name string, opts ...Option) (*Cache, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	c := New(opts...)

	seg, err := shm.OpenSegment(shm.ObjectPath(c.dir, name))
	if err != nil {
		return nil, fmt.Errorf("hostcache: attach %q: %w", name, err)
	}
	lock, err := shm.OpenRWLock(shm.ObjectPath(c.dir, name+mutexSuffix))
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("hostcache: attach %q: %w", name, err)
	}

	c.name, c.seg, c.lock, c.m = name, seg, lock, newAliasMap(seg)
	logger.Infof("Attached to segment %q owned by pid %d", name, seg.OwnerPID())
	return c, nil
}

// Init creates the segment called name with a heap of size bytes and makes
// the calling process its owner. Objects left under name by an earlier owner
// are removed first, so any data stored under that name is lost.
//
// Init is a no-op if this Cache already owns a segment in this process.
func (c *Cache) Init(name string, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ownerPID == os.Getpid() {
		return nil
	}
	if err := validateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	// An attached Cache may be promoted to owner; drop its old mappings.
	c.releaseLocked()

	segPath := shm.ObjectPath(c.dir, name)
	lockPath := shm.ObjectPath(c.dir, name+mutexSuffix)
	if err := shm.Remove(lockPath); err != nil {
		logger.Warningf("Failed to remove stale lock %s: %v", lockPath, err)
	}
	if err := shm.Remove(segPath); err != nil {
		logger.Warningf("Failed to remove stale segment %s: %v", segPath, err)
	}

	seg, err := shm.CreateSegment(segPath, size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	lock, err := shm.CreateRWLock(lockPath)
	if err != nil {
		seg.Close()
		shm.Remove(segPath)
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	c.name, c.seg, c.lock, c.m = name, seg, lock, newAliasMap(seg)
	c.ownerPID = os.Getpid()
	logger.Infof("Initialized segment %q (%d bytes) at %s", name, size, segPath)
	return nil
}

// Deinit destroys the map, unmaps the segment and removes the named segment
// and lock. It does nothing unless this Cache is the owner in the calling
// process. Failures are logged and never propagated.
func (c *Cache) Deinit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ownerPID != os.Getpid() {
		return
	}
	c.ownerPID = 0

	name := c.name
	segPath := shm.ObjectPath(c.dir, name)
	lockPath := shm.ObjectPath(c.dir, name+mutexSuffix)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warningf("Recovered from panic tearing down segment %q: %v", name, r)
			}
		}()
		if c.m != nil && c.lock != nil {
			c.lock.Lock()
			c.m.reset()
			c.lock.Unlock()
		}
		c.m = nil
		c.releaseLocked()
	}()

	if err := shm.Remove(lockPath); err != nil {
		logger.Warningf("Failed to remove lock %s: %v", lockPath, err)
	}
	if err := shm.Remove(segPath); err != nil {
		logger.Warningf("Failed to remove segment %s: %v", segPath, err)
	}
	logger.Infof("Deinitialized segment %q", name)
}

// Close releases this process's mappings without removing the named
// objects. Other processes keep using the segment. An owner that closes
// instead of calling Deinit leaves the objects for the next Init to remove.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ownerPID = 0
	return c.releaseLocked()
}

// releaseLocked closes the lock and segment handles in that order.
func (c *Cache) releaseLocked() error {
	var firstErr error
	c.m = nil
	if c.lock != nil {
		if err := c.lock.Close(); err != nil {
			logger.Warningf("Failed to close lock for %q: %v", c.name, err)
			firstErr = err
		}
		c.lock = nil
	}
	if c.seg != nil {
		if err := c.seg.Close(); err != nil {
			logger.Warningf("Failed to close segment %q: %v", c.name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		c.seg = nil
	}
	return firstErr
}

// IsOwner reports whether the calling process owns this Cache's segment.
func (c *Cache) IsOwner() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownerPID == os.Getpid()
}

// Name returns the segment name, or "" before Init or Attach.
func (c *Cache) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Cache) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
