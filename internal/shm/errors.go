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

import "errors"

var (
	// ErrUnsupported is returned on platforms without mmap/futex support.
	ErrUnsupported = errors.New("shared memory not supported on this platform")

	// ErrOutOfMemory is returned by Segment.Alloc when no free block is large
	// enough for the request.
	ErrOutOfMemory = errors.New("segment out of memory")

	// ErrInvalidSegment is returned when an existing object does not carry a
	// valid header.
	ErrInvalidSegment = errors.New("invalid shared memory segment")
)
