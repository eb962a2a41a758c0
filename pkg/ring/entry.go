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

// NoOffset selects the current file position for operations whose offset
// field supports the -1 convention (pipes, sockets, splice).
const NoOffset = ^uint64(0)

// PrepareRW is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L378
//
// The UserData field is deliberately left untouched, callers tag the entry
// after preparing it.
func (e *SQEntry) PrepareRW(opCode OpCode, fd int, addressPointer uintptr, length uint32, offset uint64) {
	e.OpCode = uint8(opCode)
	e.Flags = 0
	e.IOPriority = 0
	e.FD = int32(fd)
	e.UnionOffset = offset
	e.UnionAddress = uint64(addressPointer)
	e.Length = length
	e.UnionRWFlags = 0
	e.UnionBufferIndexPacked = 0
	e.Personality = 0
	e.UnionSplicedFDIn = 0
	e.UnionAddress3.Address3 = 0
	e.UnionAddress3._Pad2[0] = 0
}

// PrepareNOP is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L770
func (e *SQEntry) PrepareNOP() {
	e.PrepareRW(OpCodeNOP, -1, 0, 0, 0)
}

// PrepareOpenat2 is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L788
//
// pathPointer must reference a NUL-terminated byte string and howPointer a
// struct open_how, both pinned by the caller until the operation completes.
func (e *SQEntry) PrepareOpenat2(dirFD int, pathPointer uintptr, howPointer uintptr, howSize uint32) {
	e.PrepareRW(OpCodeOpenat2, dirFD, pathPointer, howSize, uint64(howPointer))
}

// PrepareClose is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L809
func (e *SQEntry) PrepareClose(fd int) {
	e.PrepareRW(OpCodeClose, fd, 0, 0, 0)
}

// PrepareReadFixed is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L442
func (e *SQEntry) PrepareReadFixed(fd int, addressPointer uintptr, length uint32, offset uint64, bufferIndex uint16) {
	e.PrepareRW(OpCodeReadFixed, fd, addressPointer, length, offset)
	e.UnionBufferIndexPacked = bufferIndex
}

// PrepareWriteFixed is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L456
func (e *SQEntry) PrepareWriteFixed(fd int, addressPointer uintptr, length uint32, offset uint64, bufferIndex uint16) {
	e.PrepareRW(OpCodeWriteFixed, fd, addressPointer, length, offset)
	e.UnionBufferIndexPacked = bufferIndex
}

// PrepareReadV is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L430
func (e *SQEntry) PrepareReadV(fd int, iovecsPointer uintptr, numIOVecs uint32, offset uint64) {
	e.PrepareRW(OpCodeReadV, fd, iovecsPointer, numIOVecs, offset)
}

// PrepareWriteV is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L449
func (e *SQEntry) PrepareWriteV(fd int, iovecsPointer uintptr, numIOVecs uint32, offset uint64) {
	e.PrepareRW(OpCodeWriteV, fd, iovecsPointer, numIOVecs, offset)
}

// PreparePollAdd is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L628
//
// The readiness notification is single-shot.
func (e *SQEntry) PreparePollAdd(fd int, pollMask uint32) {
	e.PrepareRW(OpCodePollAdd, fd, 0, 0, 0)
	e.UnionRWFlags = pollMask
}

// PrepareSplice is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L404
//
// Pass NoOffset for either offset to use the descriptor's current position.
func (e *SQEntry) PrepareSplice(fdIn int, offsetIn uint64, fdOut int, offsetOut uint64, length uint32, spliceFlags uint32) {
	e.PrepareRW(OpCodeSplice, fdOut, 0, length, offsetOut)
	e.UnionAddress = offsetIn
	e.UnionSplicedFDIn = int32(fdIn)
	e.UnionRWFlags = spliceFlags
}

// PrepareConnect is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L741
func (e *SQEntry) PrepareConnect(fd int, addressPointer uintptr, addressLength uint64) {
	e.PrepareRW(OpCodeConnect, fd, addressPointer, 0, addressLength)
}

// PrepareAccept is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L591
//
// addressLengthPointer is the address of a kernel-writable socklen_t.
func (e *SQEntry) PrepareAccept(fd int, addressPointer uintptr, addressLengthPointer uint64, flags uint32) {
	e.PrepareRW(OpCodeAccept, fd, addressPointer, 0, addressLengthPointer)
	e.UnionRWFlags = flags
}

// PrepareCancel is defined here: https://github.com/axboe/liburing/blob/liburing-2.4/src/include/liburing.h#L686
//
// userData tags the in-flight operation to cancel.
func (e *SQEntry) PrepareCancel(userData uint64, flags uint32) {
	e.PrepareRW(OpCodeAsyncCancel, -1, 0, 0, 0)
	e.UnionAddress = userData
	e.UnionRWFlags = flags
}
