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
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/loopholelabs/sqring/pkg/ring"
)

// CurrentPosition selects the file descriptor's current position instead of
// an absolute file offset, for descriptors without one (pipes, sockets).
const CurrentPosition int64 = -1

// openHow owns the kernel-visible arguments of one Openat2: the open_how
// block and a NUL-terminated copy of the path. Both must stay reachable
// until the operation completes, so they live in the slot payload.
type openHow struct {
	how  unix.OpenHow
	path []byte
}

// prepare runs the two-phase submission protocol: take a slot, then take an
// SQE. Either bound can be hit independently; when the SQE side fails the
// slot is handed back so that live slots always correspond one-to-one with
// submitted-or-preparing operations.
func (q *Queue[T]) prepare(p pending[T]) (*Entry, *ring.SQEntry, error) {
	if q.closed {
		return nil, nil, ErrClosed
	}

	id, err := q.slots.Alloc(p)
	if err != nil {
		return nil, nil, ErrBusy
	}

	sqe := q.ring.GetSQEntry()
	if sqe == nil {
		_, _ = q.slots.Free(id)
		return nil, nil, ErrBusy
	}

	q.dirty = true
	return &Entry{id: id}, sqe, nil
}

// Noop prepares an operation that completes immediately with result 0.
func (q *Queue[T]) Noop(token T) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareNOP()
	sqe.UserData = uint64(e.id)
	return e, nil
}

// Openat2 prepares an open of path relative to the at descriptor (AtFDCWD
// for the current working directory). The completion result is the new file
// descriptor or a negated errno.
func (q *Queue[T]) Openat2(token T, access Access, flags OpenFlags, mode uint64, resolve ResolveFlags, at int, path string) (*Entry, error) {
	if strings.IndexByte(path, 0) >= 0 {
		return nil, ErrInvalidPath
	}

	how := &openHow{
		how: unix.OpenHow{
			Flags:   uint64(flags) | access.openFlags(),
			Mode:    mode,
			Resolve: uint64(resolve),
		},
		path: append([]byte(path), 0),
	}

	e, sqe, err := q.prepare(pending[T]{token: token, how: how})
	if err != nil {
		return nil, err
	}

	sqe.PrepareOpenat2(
		at,
		uintptr(unsafe.Pointer(&how.path[0])),
		uintptr(unsafe.Pointer(&how.how)),
		uint32(unsafe.Sizeof(how.how)),
	)
	sqe.UserData = uint64(e.id)
	return e, nil
}

// CloseFD prepares a close of fd.
func (q *Queue[T]) CloseFD(token T, fd int) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareClose(fd)
	sqe.UserData = uint64(e.id)
	return e, nil
}

// ReadFixed prepares a read of length bytes from fd at fileOff into the
// registered buffer starting at bufOff.
func (q *Queue[T]) ReadFixed(token T, fd int, bufOff int, length int, fileOff int64) (*Entry, error) {
	addr, err := q.region(bufOff, length)
	if err != nil {
		return nil, err
	}

	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareReadFixed(fd, addr, uint32(length), uint64(fileOff), 0)
	sqe.UserData = uint64(e.id)
	return e, nil
}

// WriteFixed prepares a write of length bytes to fd at fileOff from the
// registered buffer starting at bufOff.
func (q *Queue[T]) WriteFixed(token T, fd int, bufOff int, length int, fileOff int64) (*Entry, error) {
	addr, err := q.region(bufOff, length)
	if err != nil {
		return nil, err
	}

	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareWriteFixed(fd, addr, uint32(length), uint64(fileOff), 0)
	sqe.UserData = uint64(e.id)
	return e, nil
}

func (q *Queue[T]) region(bufOff int, length int) (uintptr, error) {
	b := q.buf.Bytes()
	if bufOff < 0 || length < 0 || bufOff+length > len(b) {
		return 0, ErrRegion
	}
	return uintptr(unsafe.Pointer(&b[0])) + uintptr(bufOff), nil
}

// Readv prepares a scatter read from fd at fileOff into bufs. The buffers
// and the iovec list built over them stay reachable until completion.
func (q *Queue[T]) Readv(token T, fd int, bufs [][]byte, fileOff int64) (*Entry, error) {
	return q.vectored(token, fd, bufs, fileOff, false)
}

// Writev prepares a gather write from bufs to fd at fileOff.
func (q *Queue[T]) Writev(token T, fd int, bufs [][]byte, fileOff int64) (*Entry, error) {
	return q.vectored(token, fd, bufs, fileOff, true)
}

func (q *Queue[T]) vectored(token T, fd int, bufs [][]byte, fileOff int64, write bool) (*Entry, error) {
	iovs := make([]unix.Iovec, 0, len(bufs))
	for i := range bufs {
		if len(bufs[i]) == 0 {
			continue
		}
		iovec := unix.Iovec{
			Base: &bufs[i][0],
		}
		iovec.SetLen(len(bufs[i]))
		iovs = append(iovs, iovec)
	}

	e, sqe, err := q.prepare(pending[T]{token: token, iovs: iovs, bufs: bufs})
	if err != nil {
		return nil, err
	}

	var addr uintptr
	if len(iovs) > 0 {
		addr = uintptr(unsafe.Pointer(&iovs[0]))
	}
	if write {
		sqe.PrepareWriteV(fd, addr, uint32(len(iovs)), uint64(fileOff))
	} else {
		sqe.PrepareReadV(fd, addr, uint32(len(iovs)), uint64(fileOff))
	}
	sqe.UserData = uint64(e.id)
	return e, nil
}

// PollAdd prepares a single-shot readiness notification for fd. The
// completion result is the triggered mask.
func (q *Queue[T]) PollAdd(token T, fd int, mask PollMask) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PreparePollAdd(fd, uint32(mask))
	sqe.UserData = uint64(e.id)
	return e, nil
}

// Splice prepares a kernel-side copy of length bytes from srcFD to dstFD,
// both at their current positions. At least one side must be a pipe.
func (q *Queue[T]) Splice(token T, srcFD int, dstFD int, length int) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareSplice(srcFD, ring.NoOffset, dstFD, ring.NoOffset, uint32(length), 0)
	sqe.UserData = uint64(e.id)
	return e, nil
}

// Connect prepares a connect of the socket fd to sa. The address storage is
// pinned until the operation completes.
func (q *Queue[T]) Connect(token T, fd int, sa *Sockaddr) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token, addr: sa})
	if err != nil {
		return nil, err
	}

	sqe.PrepareConnect(fd, sa.pointer(), uint64(sa.len))
	sqe.UserData = uint64(e.id)
	return e, nil
}

// Accept prepares an accept on the listening socket fd. The kernel fills sa
// (and its length field) with the peer address and the completion result is
// the connected descriptor, opened close-on-exec.
func (q *Queue[T]) Accept(token T, fd int, sa *Sockaddr) (*Entry, error) {
	e, sqe, err := q.prepare(pending[T]{token: token, addr: sa})
	if err != nil {
		return nil, err
	}

	sqe.PrepareAccept(fd, sa.pointer(), uint64(sa.lenPointer()), unix.SOCK_CLOEXEC)
	sqe.UserData = uint64(e.id)
	return e, nil
}

// Cancel prepares a cancellation of the operation identified by target.
// A target whose completion has already been reaped fails with
// ErrStaleEntry before anything reaches the kernel. Three outcomes are
// possible once submitted: the target was still queued (target completes
// with -ECANCELED, cancel with 0), already running (-EINTR / -EALREADY), or
// already finished (natural result / -ENOENT).
func (q *Queue[T]) Cancel(token T, target *Entry) (*Entry, error) {
	if target == nil || !q.slots.Alive(target.id) {
		return nil, ErrStaleEntry
	}

	e, sqe, err := q.prepare(pending[T]{token: token})
	if err != nil {
		return nil, err
	}

	sqe.PrepareCancel(uint64(target.id), 0)
	sqe.UserData = uint64(e.id)
	return e, nil
}
