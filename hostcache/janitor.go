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
	"context"
	"sync"
	"time"
)

// StartJanitor runs EraseExpired every interval until ctx is done or the
// returned stop function is called. stop waits for the loop to exit. A
// non-positive interval starts nothing.
//
// Lookup never removes stale entries, so a long-lived cache with write-once
// keys needs either a janitor or explicit EraseExpired calls to reclaim
// space.
func (c *Cache) StartJanitor(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.EraseExpired(); n > 0 && logger.V(2) {
					logger.Infof("Swept %d expired entries from %q", n, c.Name())
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
