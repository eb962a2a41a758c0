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

// Package sqring is a typed, non-blocking wrapper over io_uring. Operations
// are prepared against a Queue, handed to the kernel in batches with Submit,
// and reaped with Peek or Wait, each completion carrying the opaque token
// given at submission.
//
// A Queue is single-owner: none of its methods may be interleaved from
// multiple goroutines without external mutual exclusion.
package sqring

import (
	"time"

	"github.com/pkg/errors"

	"golang.org/x/sys/unix"

	"github.com/loopholelabs/sqring/pkg/buffer"
	"github.com/loopholelabs/sqring/pkg/ring"
	"github.com/loopholelabs/sqring/pkg/slot"
)

// DefaultBufferLength is the size of the registered fixed buffer unless
// WithBufferLength overrides it.
const DefaultBufferLength = 1 << 20

type options struct {
	bufferLength int64
}

type Option func(*options)

// WithBufferLength overrides the length of the registered fixed buffer.
// The length is rounded up to a whole number of pages.
func WithBufferLength(length int64) Option {
	return func(o *options) {
		o.bufferLength = length
	}
}

// pending is the slot payload of one in-flight operation: the caller's
// token plus whatever memory the kernel reads or writes while the operation
// runs. Holding that memory here keeps it reachable exactly as long as the
// slot is live.
type pending[T any] struct {
	token T
	how   *openHow
	addr  *Sockaddr
	iovs  []unix.Iovec
	bufs  [][]byte
}

// Queue pairs submission-queue preparation with completion reaping. The
// number of simultaneously in-flight operations and the number of unflushed
// submissions are both bounded by the queue depth given to New.
type Queue[T any] struct {
	ring   *ring.Ring
	buf    *buffer.Fixed
	iovecs []unix.Iovec
	slots  *slot.Pool[pending[T]]
	depth  uint32
	dirty  bool
	closed bool
}

// New creates a Queue of the given depth and registers its fixed buffer
// with the kernel. The depth must be positive.
func New[T any](depth uint32, opts ...Option) (*Queue[T], error) {
	if depth == 0 {
		return nil, ErrInvalidDepth
	}

	o := &options{
		bufferLength: DefaultBufferLength,
	}
	for _, opt := range opts {
		opt(o)
	}

	r := ring.NewRing()
	if err := r.QueueInit(depth, 0); err != nil {
		return nil, errors.Wrap(err, "error while creating ring")
	}

	buf, err := buffer.NewFixed(o.bufferLength)
	if err != nil {
		_ = r.Close()
		return nil, errors.Wrap(err, "error while allocating fixed buffer")
	}

	q := &Queue[T]{
		ring:  r,
		buf:   buf,
		slots: slot.New[pending[T]](depth),
		depth: depth,
	}

	if err = q.registerBuffer(); err != nil {
		_ = buf.Close()
		_ = r.Close()
		return nil, errors.Wrap(err, "error while registering fixed buffer")
	}

	return q, nil
}

func (q *Queue[T]) registerBuffer() error {
	b := q.buf.Bytes()
	iovec := unix.Iovec{
		Base: &b[0],
	}
	iovec.SetLen(len(b))
	q.iovecs = []unix.Iovec{iovec}

	_, err := q.ring.RegisterBuffers(q.iovecs)
	return err
}

// Depth returns the queue depth fixed at construction.
func (q *Queue[T]) Depth() uint32 {
	return q.depth
}

// Buffer returns the registered fixed buffer. Fixed reads and writes
// address regions of this slice.
func (q *Queue[T]) Buffer() []byte {
	return q.buf.Bytes()
}

// Dirty reports whether prepared submissions have not yet been handed to
// the kernel.
func (q *Queue[T]) Dirty() bool {
	return q.dirty
}

// InFlight returns the number of operations submitted or being prepared
// whose completions have not been reaped.
func (q *Queue[T]) InFlight() int {
	return q.slots.Len()
}

// SwapBuffer unregisters the current fixed buffer, swaps in b and registers
// it. The previous buffer is returned to the caller, who still owns it. No
// fixed-mode operation may be in flight; this is not checked.
func (q *Queue[T]) SwapBuffer(b *buffer.Fixed) (*buffer.Fixed, error) {
	if q.closed {
		return nil, ErrClosed
	}

	if _, err := q.ring.UnregisterBuffers(); err != nil {
		return nil, errors.Wrap(err, "error while unregistering fixed buffer")
	}

	old := q.buf
	q.buf = b
	if err := q.registerBuffer(); err != nil {
		q.buf = old
		if rerr := q.registerBuffer(); rerr != nil {
			return nil, errors.Wrap(rerr, "error while re-registering previous fixed buffer")
		}
		return nil, errors.Wrap(err, "error while registering fixed buffer")
	}

	return old, nil
}

// Submit hands every prepared submission to the kernel and returns the
// number accepted. With nothing prepared it is a no-op returning 0.
func (q *Queue[T]) Submit() (uint, error) {
	if q.closed {
		return 0, ErrClosed
	}
	if !q.dirty {
		return 0, nil
	}
	q.dirty = false

	submitted, err := q.ring.Submit()
	if err != nil {
		return submitted, errors.Wrap(err, "error during io_uring_enter")
	}
	return submitted, nil
}

// Peek reaps one completion without blocking. It returns (nil, nil) when
// none is ready.
func (q *Queue[T]) Peek() (*Completion[T], error) {
	if q.closed {
		return nil, ErrClosed
	}

	cqe, err := q.ring.PeekCQEvent()
	if err != nil {
		if transient(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "error while peeking completion")
	}
	if cqe == nil {
		return nil, nil
	}

	return q.reap(cqe)
}

// Wait blocks until a completion can be reaped. An interrupted wait returns
// (nil, nil); the caller retries.
func (q *Queue[T]) Wait() (*Completion[T], error) {
	if q.closed {
		return nil, ErrClosed
	}

	cqe, err := q.ring.WaitCQEvent()
	if err != nil {
		if transient(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "error while waiting for completion")
	}
	if cqe == nil {
		return nil, nil
	}

	return q.reap(cqe)
}

// WaitTimeout blocks up to d for a completion. It returns (nil, nil) when
// the timeout expires or the wait is interrupted.
func (q *Queue[T]) WaitTimeout(d time.Duration) (*Completion[T], error) {
	if q.closed {
		return nil, ErrClosed
	}

	ts := ring.Timespec{
		Sec:  int64(d / time.Second),
		Nsec: int64(d % time.Second),
	}
	cqe, err := q.ring.WaitCQEventTimeout(&ts)
	if err != nil {
		if transient(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "error while waiting for completion")
	}
	if cqe == nil {
		return nil, nil
	}

	return q.reap(cqe)
}

func (q *Queue[T]) reap(cqe *ring.CQEvent) (*Completion[T], error) {
	id := slot.ID(cqe.UserData)
	res := cqe.Res
	q.ring.CQESeen(cqe)

	p, err := q.slots.Free(id)
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownCompletion, "user data %#x", cqe.UserData)
	}

	return &Completion[T]{
		Token: p.token,
		Res:   res,
	}, nil
}

// Close unregisters the fixed buffer and tears the ring down. It is
// idempotent. Operations still in flight are abandoned: the kernel may
// still run them, but their completions and tokens are never observed.
func (q *Queue[T]) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true

	_, _ = q.ring.UnregisterBuffers()
	err := q.ring.Close()
	if cerr := q.buf.Close(); err == nil {
		err = cerr
	}
	return err
}
