//go:build linux

/*
	Copyright 2023 Loophole Labs

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

		   http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package sqring

import (
	"github.com/pkg/errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidDepth is returned by New for a zero queue depth.
	ErrInvalidDepth = errors.New("queue depth must be positive")

	// ErrBusy means a submission was refused because either every slot or
	// every submission queue entry is taken. It is back-pressure, not
	// failure: reap at least one completion and retry.
	ErrBusy = errors.New("submission queue is full")

	// ErrClosed is returned once the queue has been torn down.
	ErrClosed = errors.New("queue is closed")

	// ErrStaleEntry means an Entry no longer identifies an in-flight
	// operation, its slot was reaped and possibly reused.
	ErrStaleEntry = errors.New("entry does not identify an in-flight operation")

	// ErrRegion means a fixed read or write referenced bytes outside the
	// registered buffer.
	ErrRegion = errors.New("region is outside the registered buffer")

	// ErrInvalidPath is returned for paths with an embedded NUL byte.
	ErrInvalidPath = errors.New("path contains a NUL byte")

	// ErrUnknownCompletion means the kernel produced a completion whose
	// user data does not match any live slot. It indicates the queue was
	// driven from more than one owner.
	ErrUnknownCompletion = errors.New("completion does not match a live slot")
)

// CompletionErrno translates an errno, such as the negated one carried by a
// failed completion result, into the host's symbolic error. It returns nil
// for 0 and works from the absolute value, so both res and -res describe the
// same error.
func CompletionErrno(res int32) error {
	if res == 0 {
		return nil
	}
	if res < 0 {
		res = -res
	}
	return unix.Errno(res)
}

// transient reports whether a wait ended without a completion for a reason
// the caller simply retries: interrupted, timed out, or nothing pending.
func transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.ETIME)
}
