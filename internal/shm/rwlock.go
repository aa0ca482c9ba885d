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

package shm

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"unsafe"
)

const (
	// LockMagic identifies a named lock object
	LockMagic = "HOSTMTX\x00"

	// LockHeaderSize is the size of a named lock object
	LockHeaderSize = 64

	// lockWriter is set in the state word while a writer holds the lock.
	// The low bits count readers.
	lockWriter  = uint32(1) << 31
	lockReaders = lockWriter - 1
)

// lockHeader is the whole content of a named lock object.
type lockHeader struct {
	magic    [8]byte  // 0x00: "HOSTMTX\0"
	version  uint32   // 0x08: layout version
	state    uint32   // 0x0C: futex word: writer bit | reader count
	waiters  uint32   // 0x10: threads blocked in futexWait
	pad      uint32   // 0x14: padding
	reserved [40]byte // 0x18-0x3F: reserved/padding to 64B
}

// RWLock is a reader/writer lock stored in its own named shared memory
// object so that any process knowing the name can take it. Waiting is
// done with shared futexes on the state word; there is no timeout and no
// recovery if a holder dies.
//
// Readers are not blocked by waiting writers, so a steady stream of
// readers can delay a writer indefinitely.
type RWLock struct {
	File *os.File // File descriptor for the lock object
	Mem  []byte   // Memory-mapped lock header
	Path string   // File path
}

// CreateRWLock creates a new unlocked lock object at path. It fails if an
// object already exists there.
func CreateRWLock(path string) (*RWLock, error) {
	file, mem, err := createObject(path, LockHeaderSize)
	if err != nil {
		return nil, err
	}

	l := &RWLock{File: file, Mem: mem, Path: path}
	h := l.header()
	copy(h.magic[:], LockMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint32(&h.state, 0)
	atomic.StoreUint32(&h.waiters, 0)
	return l, nil
}

// OpenRWLock maps an existing lock object.
func OpenRWLock(path string) (*RWLock, error) {
	file, mem, err := openObject(path, LockHeaderSize)
	if err != nil {
		return nil, err
	}

	l := &RWLock{File: file, Mem: mem, Path: path}
	h := l.header()
	if string(h.magic[:]) != LockMagic || atomic.LoadUint32(&h.version) != SegmentVersion {
		l.Close()
		return nil, fmt.Errorf("%w: %s is not a lock object", ErrInvalidSegment, path)
	}
	return l, nil
}

// header returns a pointer to the lockHeader
func (l *RWLock) header() *lockHeader {
	return (*lockHeader)(unsafe.Pointer(&l.Mem[0]))
}

// Lock acquires the lock exclusively, blocking until no reader or writer
// holds it.
func (l *RWLock) Lock() {
	h := l.header()
	for {
		s := atomic.LoadUint32(&h.state)
		if s == 0 {
			if atomic.CompareAndSwapUint32(&h.state, 0, lockWriter) {
				return
			}
			continue
		}
		l.wait(s)
	}
}

// Unlock releases an exclusive hold.
func (l *RWLock) Unlock() {
	h := l.header()
	if !atomic.CompareAndSwapUint32(&h.state, lockWriter, 0) {
		panic("shm: Unlock of RWLock not held exclusively")
	}
	l.wakeAll()
}

// RLock acquires the lock in shared mode, blocking while a writer holds it.
func (l *RWLock) RLock() {
	h := l.header()
	for {
		s := atomic.LoadUint32(&h.state)
		if s&lockWriter == 0 {
			if s&lockReaders == lockReaders {
				panic("shm: too many RWLock readers")
			}
			if atomic.CompareAndSwapUint32(&h.state, s, s+1) {
				return
			}
			continue
		}
		l.wait(s)
	}
}

// RUnlock releases a shared hold.
func (l *RWLock) RUnlock() {
	h := l.header()
	for {
		s := atomic.LoadUint32(&h.state)
		if s&lockWriter != 0 || s&lockReaders == 0 {
			panic("shm: RUnlock of RWLock not held in shared mode")
		}
		if atomic.CompareAndSwapUint32(&h.state, s, s-1) {
			if s-1 == 0 {
				l.wakeAll()
			}
			return
		}
	}
}

// wait sleeps until the state word moves away from s.
func (l *RWLock) wait(s uint32) {
	h := l.header()
	atomic.AddUint32(&h.waiters, 1)
	// Errors only mean the wait ended early; the caller re-checks state.
	_ = futexWait(&h.state, s)
	atomic.AddUint32(&h.waiters, ^uint32(0))
}

// wakeAll wakes every waiter if any are registered. Waiters register before
// sleeping and futexWait re-checks the word, so a release that observes no
// waiters cannot strand one.
func (l *RWLock) wakeAll() {
	h := l.header()
	if atomic.LoadUint32(&h.waiters) == 0 {
		return
	}
	futexWake(&h.state, math.MaxInt32)
}

// Close unmaps the lock object in this process. It must not be held by this
// process when closed.
func (l *RWLock) Close() error {
	return closeObject(&l.File, &l.Mem)
}
