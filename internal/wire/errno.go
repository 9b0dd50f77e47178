// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import "github.com/blocksense-network/agentfs/internal/fserrors"

// Errno maps an fserrors.Kind to its POSIX errno.
func Errno(kind fserrors.Kind) int32 {
	switch kind {
	case fserrors.NotFound:
		return 2 // ENOENT
	case fserrors.AlreadyExists:
		return 17 // EEXIST
	case fserrors.AccessDenied:
		return 13 // EACCES
	case fserrors.InvalidArgument:
		return 22 // EINVAL
	case fserrors.Busy:
		return 16 // EBUSY
	case fserrors.NoSpace:
		return 28 // ENOSPC
	case fserrors.Unsupported:
		return 95 // ENOTSUP
	default:
		return 5 // EIO
	}
}

// ErrorResponse builds the SSZ Error{message, code} response for ferr,
// preferring an explicitly attached errno (fserrors.Error.WithErrno) over
// the kind's default mapping — some conditions (e.g. ENOTEMPTY) have no
// dedicated Kind but still need a precise errno on the wire.
func ErrorResponse(ferr *fserrors.Error) Response {
	code := Errno(ferr.Kind)
	if ferr.Errno != 0 {
		code = int32(ferr.Errno)
	}
	return Response{
		Kind: RespError,
		Error: ErrorPayload{
			Message: ferr.Error(),
			Code:    code,
			HasCode: true,
		},
	}
}
