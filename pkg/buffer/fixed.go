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

package buffer

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = os.Getpagesize()

// Fixed is a byte region allocated outside of the Go heap via mmap.
// Its size is constant for the lifetime of the buffer and rounded up to a
// whole number of pages, which makes it suitable for registration with the
// kernel as a fixed I/O buffer.
type Fixed []byte

func NewFixed(size int64) (*Fixed, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive")
	}
	size = int64(math.Ceil(float64(size)/float64(pageSize)) * float64(pageSize))

	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("error while mmaping buffer memory space: %w", err)
	}

	buffer := (Fixed)(b)
	return &buffer, nil
}

func (buf *Fixed) Bytes() []byte {
	return *buf
}

func (buf *Fixed) Len() int {
	return len(*buf)
}

func (buf *Fixed) Close() error {
	return unix.Munmap(*buf)
}
