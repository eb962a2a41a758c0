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

// Package slot provides a fixed-capacity arena that maps small integer
// handles to values. Handles are versioned so that a released handle is
// rejected even after its underlying index has been reused.
package slot

import (
	"github.com/pkg/errors"
)

var (
	ErrNoSpace = errors.New("no free slots")
	ErrFreed   = errors.New("slot is not live")
)

// ID identifies one live slot. It packs the slot index into the low 32 bits
// and the slot's version counter into the high 32 bits, so the whole handle
// round-trips through a single uint64 such as io_uring's user_data field.
type ID uint64

func packID(index uint32, version uint32) ID {
	return ID(uint64(version)<<32 | uint64(index))
}

func (id ID) index() uint32 {
	return uint32(id)
}

func (id ID) version() uint32 {
	return uint32(id >> 32)
}

type entry[T any] struct {
	version uint32
	live    bool
	value   T
}

// Pool is a bounded store of values with O(1) Alloc and Free.
// It is not safe for concurrent use.
type Pool[T any] struct {
	slots []entry[T]
	free  []uint32
	live  int
}

// New creates a Pool with the given capacity. A capacity of zero is legal
// but every Alloc will fail with ErrNoSpace.
func New[T any](capacity uint32) *Pool[T] {
	p := &Pool[T]{
		slots: make([]entry[T], capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity; i > 0; i-- {
		p.free = append(p.free, i-1)
	}
	return p
}

// Alloc stores v in a free slot and returns its ID. It fails with
// ErrNoSpace when every slot is live.
func (p *Pool[T]) Alloc(v T) (ID, error) {
	if len(p.free) == 0 {
		return 0, ErrNoSpace
	}
	index := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[index]
	s.live = true
	s.value = v
	p.live++

	return packID(index, s.version), nil
}

// Free releases the slot identified by id and returns the stored value.
// It fails with ErrFreed if the slot is not live or if id carries a stale
// version, i.e. the slot was released and reused since id was issued.
func (p *Pool[T]) Free(id ID) (T, error) {
	var zero T
	s := p.lookup(id)
	if s == nil {
		return zero, ErrFreed
	}

	v := s.value
	s.value = zero
	s.live = false
	s.version++
	p.live--
	p.free = append(p.free, id.index())

	return v, nil
}

// Get returns a pointer to the value stored in the slot identified by id,
// valid until the slot is freed.
func (p *Pool[T]) Get(id ID) (*T, error) {
	s := p.lookup(id)
	if s == nil {
		return nil, ErrFreed
	}
	return &s.value, nil
}

// Alive reports whether id identifies a live slot.
func (p *Pool[T]) Alive(id ID) bool {
	return p.lookup(id) != nil
}

// Len returns the number of live slots.
func (p *Pool[T]) Len() int {
	return p.live
}

// Cap returns the fixed capacity of the pool.
func (p *Pool[T]) Cap() int {
	return len(p.slots)
}

func (p *Pool[T]) lookup(id ID) *entry[T] {
	index := id.index()
	if uint32(len(p.slots)) <= index {
		return nil
	}
	s := &p.slots[index]
	if !s.live || s.version != id.version() {
		return nil
	}
	return s
}
