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

// Package shm provides the shared memory primitives behind the hostname
// cache: named memory-mapped segments, an offset-based heap allocator living
// inside a segment, and a futex-backed reader/writer lock that unrelated
// processes can share by name.
//
// Nothing stored inside a segment is a Go pointer. Every reference between
// objects in shared memory is an offset from the start of the segment, so a
// segment stays valid no matter where each attached process maps it. Callers
// turn offsets into addresses on demand with Segment.Pointer and never keep
// the result beyond the lifetime of the mapping.
package shm
