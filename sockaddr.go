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
	"unsafe"

	"github.com/pkg/errors"

	"golang.org/x/sys/unix"
)

var (
	ErrUnsupportedSockaddr = errors.New("unsupported sockaddr type")
	ErrInvalidSockaddr     = errors.New("invalid sockaddr")
)

// Sockaddr holds a socket address in the kernel's raw wire form. Connect
// reads from it; Accept hands its storage (including the length field) to
// the kernel to fill in. The memory is pinned for the lifetime of the
// operation that references it.
type Sockaddr struct {
	raw unix.RawSockaddrAny
	len uint32
}

// NewSockaddrStorage returns an empty Sockaddr sized for any address
// family, for use as the out-parameter of Accept.
func NewSockaddrStorage() *Sockaddr {
	return &Sockaddr{
		len: unix.SizeofSockaddrAny,
	}
}

// NewSockaddr encodes sa into its raw kernel form. Inet4, Inet6 and Unix
// addresses are supported.
func NewSockaddr(sa unix.Sockaddr) (*Sockaddr, error) {
	s := new(Sockaddr)
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		raw := (*unix.RawSockaddrInet4)(unsafe.Pointer(&s.raw))
		raw.Family = unix.AF_INET
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(a.Port >> 8)
		p[1] = byte(a.Port)
		raw.Addr = a.Addr
		s.len = unix.SizeofSockaddrInet4
	case *unix.SockaddrInet6:
		raw := (*unix.RawSockaddrInet6)(unsafe.Pointer(&s.raw))
		raw.Family = unix.AF_INET6
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(a.Port >> 8)
		p[1] = byte(a.Port)
		raw.Scope_id = a.ZoneId
		raw.Addr = a.Addr
		s.len = unix.SizeofSockaddrInet6
	case *unix.SockaddrUnix:
		raw := (*unix.RawSockaddrUnix)(unsafe.Pointer(&s.raw))
		name := a.Name
		if len(name) >= len(raw.Path) {
			return nil, errors.Wrap(ErrInvalidSockaddr, "unix socket path is too long")
		}
		raw.Family = unix.AF_UNIX
		for i := 0; i < len(name); i++ {
			raw.Path[i] = int8(name[i])
		}
		// Length includes the terminating NUL for pathname sockets. An
		// address starting with '@' selects the abstract namespace.
		s.len = uint32(2 + len(name) + 1)
		if len(name) == 0 {
			s.len = 2
		} else if raw.Path[0] == '@' {
			raw.Path[0] = 0
			s.len--
		}
	default:
		return nil, ErrUnsupportedSockaddr
	}
	return s, nil
}

// Sockaddr decodes the raw kernel form back into a unix.Sockaddr. After an
// Accept completes, it returns the peer's address.
func (s *Sockaddr) Sockaddr() (unix.Sockaddr, error) {
	switch s.raw.Addr.Family {
	case unix.AF_INET:
		raw := (*unix.RawSockaddrInet4)(unsafe.Pointer(&s.raw))
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		return &unix.SockaddrInet4{
			Port: int(p[0])<<8 | int(p[1]),
			Addr: raw.Addr,
		}, nil
	case unix.AF_INET6:
		raw := (*unix.RawSockaddrInet6)(unsafe.Pointer(&s.raw))
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		return &unix.SockaddrInet6{
			Port:   int(p[0])<<8 | int(p[1]),
			ZoneId: raw.Scope_id,
			Addr:   raw.Addr,
		}, nil
	case unix.AF_UNIX:
		raw := (*unix.RawSockaddrUnix)(unsafe.Pointer(&s.raw))
		if s.len < 2 || s.len > unix.SizeofSockaddrUnix {
			return nil, ErrInvalidSockaddr
		}
		n := int(s.len) - 2
		if n > 0 && raw.Path[0] == 0 {
			// Abstract socket, rendered with the customary leading '@'.
			raw.Path[0] = '@'
		}
		name := make([]byte, 0, n)
		for i := 0; i < n && raw.Path[i] != 0; i++ {
			name = append(name, byte(raw.Path[i]))
		}
		return &unix.SockaddrUnix{Name: string(name)}, nil
	default:
		return nil, ErrUnsupportedSockaddr
	}
}

func (s *Sockaddr) pointer() uintptr {
	return uintptr(unsafe.Pointer(&s.raw))
}

func (s *Sockaddr) lenPointer() uintptr {
	return uintptr(unsafe.Pointer(&s.len))
}
