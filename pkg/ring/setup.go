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

package ring

import (
	"fmt"
	"syscall"
	"unsafe"
)

// QueueInit is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/setup.c#L344
func (r *Ring) QueueInit(entries uint32, flags uint32) error {
	params := &Params{
		Flags: flags,
	}
	return r.QueueInitParams(entries, params)
}

// QueueInitParams is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/setup.c#L321
func (r *Ring) QueueInitParams(entries uint32, params *Params) error {
	fd, err := setup(entries, params)
	if err != nil {
		return fmt.Errorf("error during io_uring_setup: %w", err)
	}

	err = r.QueueMMap(fd, params)
	if err != nil {
		_ = syscall.Close(fd)
		return err
	}

	// The kernel-visible index array never changes after this point, each
	// SQE slot maps to the array slot of the same index.
	for i := uint32(0); i < r.SQ.RingEntries; i++ {
		*(*uint32)(unsafe.Add(unsafe.Pointer(r.SQ.Array), uintptr(i)*uint32Size)) = i
	}

	r.Features = params.Features
	return nil
}

// QueueMMap is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/setup.c#L310
func (r *Ring) QueueMMap(fd int, params *Params) error {
	err := MMap(fd, params, &r.SQ, &r.CQ)
	if err != nil {
		return err
	}

	r.Flags = params.Flags
	r.FD = fd
	r.EnterRingFd = fd
	r.IntFlags = 0
	return nil
}

// MMap is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/setup.c#L18
func MMap(fd int, params *Params, sq *SubmissionQueue, cq *CompletionQueue) error {
	sq.RingSize = uint(uintptr(params.SQOffsets.Array) + uintptr(params.SQEntries)*uint32Size)
	cq.RingSize = uint(uintptr(params.CQOffsets.CQEs) + uintptr(params.CQEntries)*cqEventSize)

	if params.Features&uint32(FeatureSingleMMap) != 0 {
		if cq.RingSize > sq.RingSize {
			sq.RingSize = cq.RingSize
		}
		cq.RingSize = sq.RingSize
	}

	ringPtr, err := mmap(0, uintptr(sq.RingSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(SQRingOffset))
	if err != nil {
		return fmt.Errorf("error while MMAPing SQ Ring: %w", err)
	}
	sq.RingPointer = unsafe.Pointer(ringPtr)

	if params.Features&uint32(FeatureSingleMMap) != 0 {
		cq.RingPointer = sq.RingPointer
	} else {
		ringPtr, err = mmap(0, uintptr(cq.RingSize), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(CQRingOffset))
		if err != nil {
			MUnmap(sq, cq)
			return fmt.Errorf("error while MMAPing CQ Ring: %w", err)
		}
		cq.RingPointer = unsafe.Pointer(ringPtr)
	}

	sq.KHead = (*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.Head)))
	sq.KTail = (*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.Tail)))
	sq.KFlags = (*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.Flags)))
	sq.KDropped = (*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.Dropped)))
	sq.Array = (*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.Array)))
	sq.RingMask = *(*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.RingMask)))
	sq.RingEntries = *(*uint32)(unsafe.Pointer(uintptr(sq.RingPointer) + uintptr(params.SQOffsets.RingEntries)))

	sqesPtr, err := mmap(0, sqEntrySize*uintptr(params.SQEntries), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE, fd, int64(SQEntriesOffset))
	if err != nil {
		MUnmap(sq, cq)
		return fmt.Errorf("error while MMAPing SQ Ring's SQ Entry: %w", err)
	}
	sq.SQEs = (*SQEntry)(unsafe.Pointer(sqesPtr))
	sq.SQEsSize = uint(sqEntrySize * uintptr(params.SQEntries))

	cq.KHead = (*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.Head)))
	cq.KTail = (*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.Tail)))
	cq.KOverflow = (*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.Overflow)))
	cq.CQEs = (*CQEvent)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.CQEs)))
	if params.CQOffsets.Flags != 0 {
		cq.KFlags = (*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.Flags)))
	}
	cq.RingMask = *(*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.RingMask)))
	cq.RingEntries = *(*uint32)(unsafe.Pointer(uintptr(cq.RingPointer) + uintptr(params.CQOffsets.RingEntries)))

	return nil
}

// MUnmap is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/setup.c#L11
func MUnmap(sq *SubmissionQueue, cq *CompletionQueue) {
	if sq.SQEsSize > 0 {
		_ = munmap(uintptr(unsafe.Pointer(sq.SQEs)), uintptr(sq.SQEsSize))
	}

	if sq.RingSize > 0 {
		_ = munmap(uintptr(sq.RingPointer), uintptr(sq.RingSize))
	}

	if cq.RingSize > 0 && cq.RingPointer != sq.RingPointer {
		_ = munmap(uintptr(cq.RingPointer), uintptr(cq.RingSize))
	}
}
