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

// Package hostcache implements a hostname → alias cache shared by
// independent processes on one host through a named shared memory segment.
//
// One process creates the segment and owns its lifetime:
//
//	c := hostcache.New()
//	if err := c.Init("resolver_cache", 1<<20); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Deinit()
//
// Any other process attaches to it by name:
//
//	c, err := hostcache.Attach("resolver_cache")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.InsertOrAssign("db.internal", "10.0.0.12", time.Minute)
//	alias, ok := c.Lookup("db.internal")
//
// Entries expire a fixed TTL after they are written. Lookup treats an
// expired entry as missing but leaves it in place; EraseExpired (or a
// janitor started with StartJanitor) removes stale entries in bulk. The
// segment has a fixed size chosen at Init, and InsertOrAssign fails with
// ErrCacheFull once it is exhausted.
//
// All operations take a reader/writer lock that lives in a second named
// object, "<name>_mutex". Mutations take it exclusively and reads take it
// shared. There is no timeout: a process that dies while holding the lock
// blocks every other user of the segment.
package hostcache
