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

package hostcache

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shmkit/shmcache/internal/shm"
)

// mockTime is a goroutine-safe clock for expiration tests.
type mockTime struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTime() *mockTime {
	return &mockTime{
		currentTime: time.Unix(1_700_000_000, 0),
	}
}

func (m *mockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTime) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// skipUnsupported skips tests on platforms without mmap/futex support.
func skipUnsupported(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("shared memory requires linux/amd64 or linux/arm64")
	}
}

// testSegmentName returns a segment name unique to the running test.
func testSegmentName(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("hc-%s-%d", name, time.Now().UnixNano())
}

// newTestCache initializes an owned cache with a unique name and registers
// Deinit with t.Cleanup.
func newTestCache(t *testing.T, size uint64, opts ...Option) *Cache {
	t.Helper()
	skipUnsupported(t)

	c := New(opts...)
	if err := c.Init(testSegmentName(t), size); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	t.Cleanup(c.Deinit)
	return c
}

// objectPaths returns the segment and lock paths for name.
func objectPaths(name string) (string, string) {
	return shm.ObjectPath("", name), shm.ObjectPath("", name+mutexSuffix)
}
