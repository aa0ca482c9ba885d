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
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "HOSTSHM\x00"

	// Current layout version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// MinSegmentSize is the smallest segment CreateSegment accepts.
	MinSegmentSize = 4096

	// blockAlign is the alignment of every heap block and payload.
	blockAlign = 16
)

// SegmentHeader is the fixed header at offset 0 of every segment.
// All fields are accessed atomically; the heap and map fields are only
// mutated while the segment's named lock is held exclusively.
type SegmentHeader struct {
	magic     [8]byte  // 0x00: "HOSTSHM\0"
	version   uint32   // 0x08: layout version
	flags     uint32   // 0x0C: reserved flags
	totalSize uint64   // 0x10: total segment size
	heapOff   uint64   // 0x18: offset of the first heap byte
	heapEnd   uint64   // 0x20: offset one past the last heap byte
	freeHead  uint64   // 0x28: offset of the first free block (0 = none)
	freeBytes uint64   // 0x30: bytes held by free blocks
	ownerPID  uint32   // 0x38: process that created the segment
	pad       uint32   // 0x3C: padding
	root      uint64   // 0x40: offset of the map root node (0 = empty)
	count     uint64   // 0x48: number of map entries
	reserved  [48]byte // 0x50-0x7F: reserved/padding to 128B
}

// Version returns the layout version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// TotalSize returns the total segment size
func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// OwnerPID returns the PID of the process that created the segment
func (h *SegmentHeader) OwnerPID() uint32 {
	return atomic.LoadUint32(&h.ownerPID)
}

// Segment represents a mapped shared memory segment
type Segment struct {
	File *os.File // File descriptor for the shared memory object
	Mem  []byte   // Memory-mapped region
	Path string   // File path
}

// header returns a pointer to the SegmentHeader
func (s *Segment) header() *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&s.Mem[0]))
}

// Header returns the segment header.
func (s *Segment) Header() *SegmentHeader {
	return s.header()
}

// Pointer converts a segment offset into an address in this process's
// mapping. The result must not outlive the mapping.
func (s *Segment) Pointer(off uint64) unsafe.Pointer {
	if off == 0 || off >= uint64(len(s.Mem)) {
		panic(fmt.Sprintf("shm: offset %d outside segment of %d bytes", off, len(s.Mem)))
	}
	return unsafe.Pointer(&s.Mem[off])
}

// Slice returns the n bytes starting at off as a slice aliasing shared memory.
func (s *Segment) Slice(off, n uint64) []byte {
	if off+n > uint64(len(s.Mem)) {
		panic(fmt.Sprintf("shm: range [%d,%d) outside segment of %d bytes", off, off+n, len(s.Mem)))
	}
	return s.Mem[off : off+n : off+n]
}

// Root returns the offset of the map root node
func (s *Segment) Root() uint64 {
	return atomic.LoadUint64(&s.header().root)
}

// SetRoot sets the offset of the map root node
func (s *Segment) SetRoot(off uint64) {
	atomic.StoreUint64(&s.header().root, off)
}

// Count returns the number of map entries
func (s *Segment) Count() uint64 {
	return atomic.LoadUint64(&s.header().count)
}

// SetCount sets the number of map entries
func (s *Segment) SetCount(n uint64) {
	atomic.StoreUint64(&s.header().count, n)
}

// OwnerPID returns the PID recorded by the creating process
func (s *Segment) OwnerPID() int {
	return int(s.header().OwnerPID())
}

// Size returns the total segment size
func (s *Segment) Size() uint64 {
	return s.header().TotalSize()
}

// initHeader lays out an empty heap behind a fresh header.
func (s *Segment) initHeader(size uint64) {
	h := s.header()
	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint64(&h.totalSize, size)

	heapOff := alignUp(SegmentHeaderSize)
	heapEnd := size &^ (blockAlign - 1)
	atomic.StoreUint64(&h.heapOff, heapOff)
	atomic.StoreUint64(&h.heapEnd, heapEnd)
	atomic.StoreUint32(&h.ownerPID, uint32(os.Getpid()))
	atomic.StoreUint64(&h.root, 0)
	atomic.StoreUint64(&h.count, 0)

	// One free block spans the whole heap.
	s.block(heapOff).size = heapEnd - heapOff
	s.block(heapOff).next = 0
	atomic.StoreUint64(&h.freeHead, heapOff)
	atomic.StoreUint64(&h.freeBytes, heapEnd-heapOff)
}

// ValidateSegmentHeader validates a segment header against the mapped size
func ValidateSegmentHeader(h *SegmentHeader, mapped uint64) error {
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("%w: bad magic bytes", ErrInvalidSegment)
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidSegment, h.Version(), SegmentVersion)
	}
	if h.TotalSize() != mapped {
		return fmt.Errorf("%w: total size mismatch: header %d, file %d", ErrInvalidSegment, h.TotalSize(), mapped)
	}
	heapOff := atomic.LoadUint64(&h.heapOff)
	heapEnd := atomic.LoadUint64(&h.heapEnd)
	if heapOff != alignUp(SegmentHeaderSize) || heapEnd > mapped || heapEnd <= heapOff {
		return fmt.Errorf("%w: heap bounds [%d,%d) invalid", ErrInvalidSegment, heapOff, heapEnd)
	}
	return nil
}

// CreateSegment creates a new shared memory segment of exactly size bytes at
// path. It fails if an object already exists at path.
func CreateSegment(path string, size uint64) (*Segment, error) {
	if size < MinSegmentSize {
		return nil, fmt.Errorf("segment size %d is below minimum %d", size, MinSegmentSize)
	}

	file, mem, err := createObject(path, size)
	if err != nil {
		return nil, err
	}

	segment := &Segment{File: file, Mem: mem, Path: path}
	segment.initHeader(size)
	return segment, nil
}

// OpenSegment maps an existing segment created by another process.
func OpenSegment(path string) (*Segment, error) {
	file, mem, err := openObject(path, SegmentHeaderSize)
	if err != nil {
		return nil, err
	}

	segment := &Segment{File: file, Mem: mem, Path: path}
	if err := ValidateSegmentHeader(segment.header(), uint64(len(mem))); err != nil {
		segment.Close()
		return nil, err
	}
	return segment, nil
}

// Close unmaps the memory and closes the file
func (s *Segment) Close() error {
	return closeObject(&s.File, &s.Mem)
}

// ObjectPath returns the file backing the named object. An empty dir selects
// /dev/shm when available and the temporary directory otherwise.
func ObjectPath(dir, name string) string {
	if dir == "" {
		if isDevShmAvailable() {
			dir = "/dev/shm"
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, name)
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Remove deletes the object at path. A missing object is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether an object exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// createObject creates, sizes and maps a new object file.
func createObject(path string, size uint64) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create shared object %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to resize shared object: %w", err)
	}

	mem, err := mapFile(file, int(size))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return file, mem, nil
}

// openObject maps an existing object file of at least minSize bytes.
func openObject(path string, minSize int64) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open shared object %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat shared object: %w", err)
	}
	if info.Size() < minSize {
		file.Close()
		return nil, nil, fmt.Errorf("%w: %s is %d bytes", ErrInvalidSegment, path, info.Size())
	}

	mem, err := mapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, mem, nil
}

// closeObject unmaps mem and closes file, clearing both.
func closeObject(file **os.File, mem *[]byte) error {
	var firstErr error

	if *mem != nil {
		if err := unmapFile(*mem); err != nil && firstErr == nil {
			firstErr = err
		}
		*mem = nil
	}

	if *file != nil {
		if err := (*file).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*file = nil
	}

	return firstErr
}

// alignUp rounds n up to the heap block alignment
func alignUp(n uint64) uint64 {
	return (n + blockAlign - 1) &^ (blockAlign - 1)
}
