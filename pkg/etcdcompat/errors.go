// Copyright 2025 The axfor Authors
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

// Package etcdcompat maps this core's internal sentinel errors onto
// etcd-compatible gRPC status codes, so every service in api/etcd can
// return errors the same way without duplicating the mapping.
package etcdcompat

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xkv/internal/lease"
	"xkv/internal/mvcc"
)

// errorCodeMap maps the sentinel errors raised by internal/mvcc and
// internal/lease to the gRPC status code etcd clients expect for the
// equivalent condition.
var errorCodeMap = map[error]codes.Code{
	mvcc.ErrKeyNotFound:      codes.NotFound,
	mvcc.ErrRevisionNotFound: codes.OutOfRange,
	mvcc.ErrCompacted:        codes.OutOfRange,
	mvcc.ErrFutureRevision:   codes.OutOfRange,
	mvcc.ErrEmptyKey:         codes.InvalidArgument,
	mvcc.ErrTxnTooBig:        codes.InvalidArgument,
	mvcc.ErrInvalidRequest:   codes.InvalidArgument,
	mvcc.ErrInvalidData:      codes.Internal,
	mvcc.ErrClosed:           codes.Unavailable,
	mvcc.ErrLeaseNotFound:    codes.NotFound,
	mvcc.ErrUnderlyingError:  codes.Internal,

	lease.ErrLeaseNotFound: codes.NotFound,
	lease.ErrTooManyLeases: codes.ResourceExhausted,
	lease.ErrInvalidTTL:    codes.InvalidArgument,
}

// toGRPCError converts an internal error into a gRPC status error. An
// error that is already a gRPC status is passed through unchanged; an
// unrecognized error becomes codes.Internal, same as etcd's own
// server-side default.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	for knownErr, code := range errorCodeMap {
		if errors.Is(err, knownErr) {
			return status.Error(code, err.Error())
		}
	}

	return status.Error(codes.Internal, err.Error())
}

// ToGRPCError is the exported form of toGRPCError, for callers outside
// this package (api/etcd's service implementations).
func ToGRPCError(err error) error {
	return toGRPCError(err)
}
