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

// Binary debug-capacity reports how many entries fit in cache segments of
// various sizes and how much of the heap survives churn.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/grpclog"

	"github.com/shmkit/shmcache/hostcache"
)

var logger = grpclog.Component("debug-capacity")

func main() {
	sizes := flag.String("sizes", "4096,65536,1048576", "comma-separated segment sizes in bytes")
	keyLen := flag.Int("keylen", 24, "length of generated hostnames")
	flag.Parse()

	dir, err := os.MkdirTemp("", "debug-capacity")
	if err != nil {
		logger.Fatalf("Failed to create scratch directory: %v", err)
	}
	defer os.RemoveAll(dir)

	for _, s := range strings.Split(*sizes, ",") {
		size, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			logger.Fatalf("Bad size %q: %v", s, err)
		}
		probe(dir, size, *keyLen)
	}
}

func probe(dir string, size uint64, keyLen int) {
	c := hostcache.New(hostcache.WithDir(dir))
	if err := c.Init(fmt.Sprintf("probe-%d", size), size); err != nil {
		fmt.Printf("=== %d bytes: init failed: %v\n\n", size, err)
		return
	}
	defer c.Deinit()

	stats := c.Stats()
	fmt.Printf("=== Segment of %d bytes ===\n", size)
	fmt.Printf("Heap size: %d bytes\n", stats.HeapSize)

	// Fill until the heap is exhausted.
	n := fill(c, 0, keyLen)
	free := c.AvailableMemory()
	fmt.Printf("Entries stored: %d\n", n)
	if n > 0 {
		fmt.Printf("Heap bytes per entry: %d\n", (stats.HeapSize-free)/uint64(n))
	}
	fmt.Printf("Free bytes when full: %d\n", free)

	// Erase every other entry and refill to see how much space coalesces back.
	for i := 0; i < n; i += 2 {
		c.Erase(hostname(i, keyLen))
	}
	refilled := fill(c, n, keyLen)
	fmt.Printf("Refilled after erasing half: %d (of %d erased)\n", refilled, (n+1)/2)

	c.Clear()
	fmt.Printf("Free bytes after clear: %d\n\n", c.AvailableMemory())
}

// fill inserts hostnames numbered from start until the cache is full and
// returns how many were stored.
func fill(c *hostcache.Cache, start, keyLen int) int {
	for i := start; ; i++ {
		_, err := c.InsertOrAssign(hostname(i, keyLen), "203.0.113.10", time.Hour)
		if errors.Is(err, hostcache.ErrCacheFull) {
			return i - start
		}
		if err != nil {
			logger.Fatalf("InsertOrAssign: %v", err)
		}
	}
}

func hostname(i, keyLen int) string {
	h := fmt.Sprintf("h%d.", i)
	if pad := keyLen - len(h); pad > 0 {
		h += strings.Repeat("x", pad)
	}
	return h
}
