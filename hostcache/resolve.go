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
	"errors"
	"time"
)

// ResolveFunc produces the alias for a hostname on a cache miss.
type ResolveFunc func(key string) (string, error)

// LookupOrResolve returns the cached alias for key, or calls resolve and
// stores its result for ttl. Concurrent misses for the same key within this
// process share a single resolve call; other processes may still resolve the
// same key independently.
//
// If the cache is full, expired entries are swept and the store retried
// once. A store that still fails does not hide the resolved alias: it is
// returned with a nil error and the failure is logged.
func (c *Cache) LookupOrResolve(key string, ttl time.Duration, resolve ResolveFunc) (string, error) {
	if alias, ok := c.Lookup(key); ok {
		return alias, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// check again in case another caller just stored it
		if alias, ok := c.Lookup(key); ok {
			return alias, nil
		}

		alias, err := resolve(key)
		if err != nil {
			return "", err
		}

		_, err = c.InsertOrAssign(key, alias, ttl)
		if errors.Is(err, ErrCacheFull) {
			if n := c.EraseExpired(); n > 0 {
				_, err = c.InsertOrAssign(key, alias, ttl)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrCacheFull):
			logger.Warningf("Resolved %q but could not cache it: %v", key, err)
		default:
			return "", err
		}
		return alias, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
