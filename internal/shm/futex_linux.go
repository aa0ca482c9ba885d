//go:build linux && (amd64 || arm64)

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
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex operations. The shared (non-private) variants are required
// because waiters and wakers live in different processes.
const (
	futexWaitShared = 0 // FUTEX_WAIT
	futexWakeShared = 1 // FUTEX_WAKE
)

// futexWait blocks while the value at addr equals val.
// It returns when either:
//   - The value at addr is no longer equal to val
//   - Another thread or process calls futexWake on the same word
//   - The system call is interrupted
//
// Callers must re-check their condition after it returns.
func futexWait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	// Syscall6 (not RawSyscall6) so the runtime can hand the P to another
	// goroutine while this thread sleeps in the kernel.
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		0, // no timeout
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	default:
		return fmt.Errorf("futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters blocked on addr.
// Returns the number of waiters actually woken up.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWakeShared,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
