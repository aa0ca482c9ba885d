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

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code maps a cache error onto the canonical status code space.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrAliasTooLong),
		errors.Is(err, ErrInvalidAlias), errors.Is(err, ErrInvalidTTL),
		errors.Is(err, ErrInvalidName):
		return codes.InvalidArgument
	case errors.Is(err, ErrCacheFull):
		return codes.ResourceExhausted
	case errors.Is(err, ErrNotInitialized):
		return codes.FailedPrecondition
	case errors.Is(err, ErrInitFailed):
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// Status converts err into a *status.Status carrying Code(err). A nil err
// yields an OK status.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(Code(err), err.Error())
}
