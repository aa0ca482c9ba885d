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
	"errors"
	"math/rand"
	"testing"
	"unsafe"
)

func TestBlockHeaderSize(t *testing.T) {
	if size := unsafe.Sizeof(blockHeader{}); size != blockHeaderSize {
		t.Errorf("blockHeader size = %d, want %d", size, blockHeaderSize)
	}
}

func TestAllocAlignmentAndAccounting(t *testing.T) {
	seg := createTestSegment(t, "alloc", MinSegmentSize)
	free := seg.FreeBytes()

	tests := []struct {
		request uint64
		block   uint64
	}{
		{0, minBlockSize},
		{1, minBlockSize},
		{16, minBlockSize},
		{17, 48},
		{100, 128},
	}

	for _, tt := range tests {
		off, err := seg.Alloc(tt.request)
		if err != nil {
			t.Fatalf("Alloc(%d) = %v", tt.request, err)
		}
		if off%blockAlign != 0 {
			t.Errorf("Alloc(%d) = %d, not %d-byte aligned", tt.request, off, blockAlign)
		}
		if got := seg.block(off - blockHeaderSize).size; got != tt.block {
			t.Errorf("Alloc(%d) block size = %d, want %d", tt.request, got, tt.block)
		}
		free -= tt.block
		if seg.FreeBytes() != free {
			t.Errorf("after Alloc(%d) FreeBytes() = %d, want %d", tt.request, seg.FreeBytes(), free)
		}
	}
}

func TestAllocZeroesPayload(t *testing.T) {
	seg := createTestSegment(t, "zero", MinSegmentSize)

	off, err := seg.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	buf := seg.Slice(off, 64)
	for i := range buf {
		buf[i] = 0xAB
	}
	seg.Free(off)

	again, err := seg.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if again != off {
		t.Fatalf("first-fit Alloc() = %d after free, want reused offset %d", again, off)
	}
	for i, b := range seg.Slice(again, 64) {
		if b != 0 {
			t.Fatalf("payload byte %d = %#x after reuse, want 0", i, b)
		}
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	seg := createTestSegment(t, "oom", MinSegmentSize)

	if _, err := seg.Alloc(seg.HeapSize()); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc(heap size) = %v, want ErrOutOfMemory", err)
	}

	var offs []uint64
	for {
		off, err := seg.Alloc(200)
		if errors.Is(err, ErrOutOfMemory) {
			break
		}
		if err != nil {
			t.Fatalf("Alloc() = %v", err)
		}
		offs = append(offs, off)
	}
	if len(offs) == 0 {
		t.Fatal("no allocation succeeded before exhaustion")
	}

	for _, off := range offs {
		seg.Free(off)
	}
	if seg.FreeBytes() != seg.HeapSize() {
		t.Errorf("FreeBytes() = %d after freeing everything, want %d", seg.FreeBytes(), seg.HeapSize())
	}
	if fl := freeList(seg); len(fl) != 1 {
		t.Errorf("free list has %d blocks after freeing everything, want 1 coalesced block: %v", len(fl), fl)
	}
}

func TestFreeCoalescesNeighbours(t *testing.T) {
	seg := createTestSegment(t, "coalesce", MinSegmentSize)

	a, _ := seg.Alloc(100)
	b, _ := seg.Alloc(100)
	c, _ := seg.Alloc(100)

	// Free the outer blocks first so the middle one merges both ways.
	seg.Free(a)
	seg.Free(c)
	if fl := freeList(seg); len(fl) != 2 {
		t.Fatalf("free list = %v, want a's block and c's block merged with the tail", fl)
	}
	seg.Free(b)
	if fl := freeList(seg); len(fl) != 1 {
		t.Fatalf("free list = %v, want a single block", fl)
	}
}

func TestFreeRandomOrder(t *testing.T) {
	seg := createTestSegment(t, "random", 64*1024)
	rng := rand.New(rand.NewSource(1))

	live := map[uint64]bool{}
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			for off := range live {
				seg.Free(off)
				delete(live, off)
				break
			}
			continue
		}
		off, err := seg.Alloc(uint64(rng.Intn(300)))
		if errors.Is(err, ErrOutOfMemory) {
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if live[off] {
			t.Fatalf("Alloc() returned live offset %d twice", off)
		}
		live[off] = true
	}
	for off := range live {
		seg.Free(off)
	}

	if seg.FreeBytes() != seg.HeapSize() {
		t.Errorf("FreeBytes() = %d, want %d", seg.FreeBytes(), seg.HeapSize())
	}
	fl := freeList(seg)
	if len(fl) != 1 || fl[0][1] != seg.HeapSize() {
		t.Errorf("free list = %v, want one block of %d bytes", fl, seg.HeapSize())
	}
}

func TestFreeDetectsDoubleFree(t *testing.T) {
	seg := createTestSegment(t, "double", MinSegmentSize)
	a, _ := seg.Alloc(32)
	_, _ = seg.Alloc(32) // keep a from merging into the tail
	seg.Free(a)

	defer func() {
		if recover() == nil {
			t.Error("double Free() did not panic")
		}
	}()
	seg.Free(a)
}
