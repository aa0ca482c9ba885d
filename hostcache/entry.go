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
	"bytes"
	"time"
	"unsafe"
)

const (
	// MaxHostnameLen is the longest key or alias accepted. Fully qualified
	// domain names are at most 253 characters.
	MaxHostnameLen = 255

	// hostnameBufSize holds MaxHostnameLen bytes plus a NUL terminator.
	hostnameBufSize = MaxHostnameLen + 1
)

// entry is the fixed-layout value stored for each key. It holds no
// references, so it is valid in every process that maps the segment.
type entry struct {
	hostname   [hostnameBufSize]byte // 0x000: NUL-terminated alias
	expiration int64                 // 0x100: unix seconds after which the entry is stale
	ttlSeconds int64                 // 0x108: TTL in effect at the last write
}

// node is a map node in the segment heap. The key bytes follow the node
// header directly; left and right are segment offsets (0 = none).
type node struct {
	left   uint64 // 0x00
	right  uint64 // 0x08
	prio   uint32 // 0x10: heap priority, derived from the key
	keyLen uint32 // 0x14
	entry  entry  // 0x18
}

// nodeKeyOffset is where the key bytes start relative to the node.
const nodeKeyOffset = uint64(unsafe.Sizeof(node{}))

// set overwrites the entry's alias and expiration data.
func (e *entry) set(alias string, expiration, ttlSeconds int64) {
	clear(e.hostname[:])
	copy(e.hostname[:MaxHostnameLen], alias)
	e.expiration = expiration
	e.ttlSeconds = ttlSeconds
}

// alias returns the stored alias as a Go string.
func (e *entry) alias() string {
	n := bytes.IndexByte(e.hostname[:], 0)
	if n < 0 {
		n = MaxHostnameLen
	}
	return string(e.hostname[:n])
}

// live reports whether the entry is still fresh at now (unix seconds).
func (e *entry) live(now int64) bool {
	return now < e.expiration
}

// Entry is a copy of a stored mapping handed to Range callbacks.
type Entry struct {
	Alias      string
	Expiration time.Time
	TTL        time.Duration
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Unix() >= e.Expiration.Unix()
}

func (e *entry) export() Entry {
	return Entry{
		Alias:      e.alias(),
		Expiration: time.Unix(e.expiration, 0),
		TTL:        time.Duration(e.ttlSeconds) * time.Second,
	}
}
