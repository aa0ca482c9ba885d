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
	"sync/atomic"
)

const (
	// blockHeaderSize precedes every heap block's payload.
	blockHeaderSize = 16

	// minBlockSize is the smallest block the allocator hands out or keeps on
	// the free list after a split.
	minBlockSize = 32
)

// blockHeader starts every heap block. next is only meaningful while the
// block sits on the free list, which is kept sorted by offset so adjacent
// blocks can be coalesced on Free.
type blockHeader struct {
	size uint64 // 0x00: block size including this header
	next uint64 // 0x08: offset of the next free block (0 = end)
}

// block returns the header of the block starting at off
func (s *Segment) block(off uint64) *blockHeader {
	return (*blockHeader)(s.Pointer(off))
}

// Alloc reserves at least n bytes from the segment heap and returns the
// offset of the zeroed payload. The caller must hold the segment's lock
// exclusively.
func (s *Segment) Alloc(n uint64) (uint64, error) {
	if n == 0 {
		n = 1
	}
	need := alignUp(n + blockHeaderSize)
	if need < minBlockSize {
		need = minBlockSize
	}

	h := s.header()
	var prev uint64
	for cur := atomic.LoadUint64(&h.freeHead); cur != 0; prev, cur = cur, s.block(cur).next {
		b := s.block(cur)
		if b.size < need {
			continue
		}

		next := b.next
		taken := b.size
		if b.size-need >= minBlockSize {
			// Split: the tail stays on the free list in this block's place.
			rest := cur + need
			rb := s.block(rest)
			rb.size = b.size - need
			rb.next = next
			next = rest
			taken = need
			b.size = need
		}

		if prev == 0 {
			atomic.StoreUint64(&h.freeHead, next)
		} else {
			s.block(prev).next = next
		}
		atomic.AddUint64(&h.freeBytes, -taken)
		b.next = 0

		payload := cur + blockHeaderSize
		clear(s.Slice(payload, taken-blockHeaderSize))
		return payload, nil
	}

	return 0, fmt.Errorf("%w: need %d bytes, %d free", ErrOutOfMemory, need, s.FreeBytes())
}

// Free returns the block whose payload starts at payload to the heap.
// The caller must hold the segment's lock exclusively.
func (s *Segment) Free(payload uint64) {
	h := s.header()
	heapOff := atomic.LoadUint64(&h.heapOff)
	heapEnd := atomic.LoadUint64(&h.heapEnd)
	if payload < heapOff+blockHeaderSize || payload >= heapEnd {
		panic(fmt.Sprintf("shm: free of offset %d outside heap [%d,%d)", payload, heapOff, heapEnd))
	}

	off := payload - blockHeaderSize
	b := s.block(off)

	var prev uint64
	cur := atomic.LoadUint64(&h.freeHead)
	for cur != 0 && cur < off {
		prev, cur = cur, s.block(cur).next
	}
	if cur == off || (prev != 0 && prev+s.block(prev).size > off) {
		panic(fmt.Sprintf("shm: double free of offset %d", payload))
	}

	b.next = cur
	if prev == 0 {
		atomic.StoreUint64(&h.freeHead, off)
	} else {
		s.block(prev).next = off
	}
	atomic.AddUint64(&h.freeBytes, b.size)

	if cur != 0 && off+b.size == cur {
		nb := s.block(cur)
		b.size += nb.size
		b.next = nb.next
	}
	if prev != 0 {
		if pb := s.block(prev); prev+pb.size == off {
			pb.size += b.size
			pb.next = b.next
		}
	}
}

// FreeBytes returns the number of heap bytes not currently allocated,
// including block headers of free blocks.
func (s *Segment) FreeBytes() uint64 {
	return atomic.LoadUint64(&s.header().freeBytes)
}

// HeapSize returns the number of bytes managed by the allocator
func (s *Segment) HeapSize() uint64 {
	h := s.header()
	return atomic.LoadUint64(&h.heapEnd) - atomic.LoadUint64(&h.heapOff)
}
