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
	"golang.org/x/sys/unix"

	"github.com/loopholelabs/sqring/pkg/slot"
)

// Access selects how Openat2 opens the file.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

func (a Access) openFlags() uint64 {
	switch a {
	case AccessWrite:
		return unix.O_WRONLY
	case AccessReadWrite:
		return unix.O_RDWR
	default:
		return unix.O_RDONLY
	}
}

// OpenFlags is a bit-set over the host's O_* constants.
type OpenFlags uint64

const (
	OpenFlagsCreate    OpenFlags = unix.O_CREAT
	OpenFlagsExclusive OpenFlags = unix.O_EXCL
	OpenFlagsNoCTTY    OpenFlags = unix.O_NOCTTY
	OpenFlagsTruncate  OpenFlags = unix.O_TRUNC
	OpenFlagsAppend    OpenFlags = unix.O_APPEND
	OpenFlagsNonblock  OpenFlags = unix.O_NONBLOCK
	OpenFlagsDSync     OpenFlags = unix.O_DSYNC
	OpenFlagsDirect    OpenFlags = unix.O_DIRECT
	OpenFlagsLargefile OpenFlags = unix.O_LARGEFILE
	OpenFlagsDirectory OpenFlags = unix.O_DIRECTORY
	OpenFlagsNoFollow  OpenFlags = unix.O_NOFOLLOW
	OpenFlagsNoATime   OpenFlags = unix.O_NOATIME
	OpenFlagsCloexec   OpenFlags = unix.O_CLOEXEC
	OpenFlagsSync      OpenFlags = unix.O_SYNC
	OpenFlagsPath      OpenFlags = unix.O_PATH
	OpenFlagsTmpfile   OpenFlags = unix.O_TMPFILE
)

// Has reports whether every bit of flags is set in f.
func (f OpenFlags) Has(flags OpenFlags) bool {
	return f&flags == flags
}

// ResolveFlags is a bit-set over the host's RESOLVE_* constants,
// constraining path resolution for Openat2.
type ResolveFlags uint64

// resolveCached is Linux's RESOLVE_CACHED (include/uapi/linux/openat2.h);
// golang.org/x/sys/unix does not export it yet.
const resolveCached = 0x20

const (
	ResolveNoXDev      ResolveFlags = unix.RESOLVE_NO_XDEV
	ResolveNoMagiclink ResolveFlags = unix.RESOLVE_NO_MAGICLINKS
	ResolveNoSymlinks  ResolveFlags = unix.RESOLVE_NO_SYMLINKS
	ResolveBeneath     ResolveFlags = unix.RESOLVE_BENEATH
	ResolveInRoot      ResolveFlags = unix.RESOLVE_IN_ROOT
	ResolveCached      ResolveFlags = resolveCached
)

// Has reports whether every bit of flags is set in f.
func (f ResolveFlags) Has(flags ResolveFlags) bool {
	return f&flags == flags
}

// PollMask is a bit-set over the host's POLL* constants.
type PollMask uint32

const (
	PollIn  PollMask = unix.POLLIN
	PollOut PollMask = unix.POLLOUT
	PollErr PollMask = unix.POLLERR
	PollHup PollMask = unix.POLLHUP
)

// Has reports whether every bit of mask is set in m.
func (m PollMask) Has(mask PollMask) bool {
	return m&mask == mask
}

// AtFDCWD makes Openat2 resolve relative paths from the current working
// directory.
const AtFDCWD = unix.AT_FDCWD

// Completion pairs the token given at submission with the kernel's signed
// result: >= 0 on success (a byte count or a new file descriptor), < 0 is
// the negated errno. See CompletionErrno.
type Completion[T any] struct {
	Token T
	Res   int32
}

// Entry is the handle returned by every submission. It is the required
// input for Cancel and becomes stale once its completion has been reaped.
type Entry struct {
	id slot.ID
}

// ID returns the slot id carried through the kernel as user data.
func (e *Entry) ID() uint64 {
	return uint64(e.id)
}
