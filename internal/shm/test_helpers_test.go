/*
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
 */

package shm

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"
)

// skipUnsupported skips tests on platforms without mmap/futex support.
func skipUnsupported(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("shared memory requires linux/amd64 or linux/arm64")
	}
}

// testObjectPath returns a unique object path for the running test.
func testObjectPath(t *testing.T, baseName string) string {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	return ObjectPath("", fmt.Sprintf("%s-%s-%d", baseName, name, time.Now().UnixNano()))
}

// createTestSegment creates a test segment with a unique name and registers
// cleanup with t.Cleanup() so the object is removed even if the test fails.
func createTestSegment(t *testing.T, baseName string, size uint64) *Segment {
	t.Helper()
	skipUnsupported(t)

	path := testObjectPath(t, baseName)
	Remove(path)

	seg, err := CreateSegment(path, size)
	if err != nil {
		t.Fatalf("Failed to create test segment %s: %v", path, err)
	}

	t.Cleanup(func() {
		seg.Close()
		Remove(path)
	})

	return seg
}

// createTestLock creates a named lock with cleanup registered.
func createTestLock(t *testing.T, baseName string) *RWLock {
	t.Helper()
	skipUnsupported(t)

	path := testObjectPath(t, baseName)
	Remove(path)

	l, err := CreateRWLock(path)
	if err != nil {
		t.Fatalf("Failed to create test lock %s: %v", path, err)
	}

	t.Cleanup(func() {
		l.Close()
		Remove(path)
	})

	return l
}

// freeList returns the (offset, size) pairs on the segment's free list.
func freeList(s *Segment) [][2]uint64 {
	var out [][2]uint64
	for cur := s.header().freeHead; cur != 0; cur = s.block(cur).next {
		out = append(out, [2]uint64{cur, s.block(cur).size})
	}
	return out
}
