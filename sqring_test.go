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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/loopholelabs/sqring/pkg/buffer"
)

func newQueue(t *testing.T, depth uint32) *Queue[int] {
	t.Helper()

	if !IsAvailable() {
		t.Skip("io_uring is not available")
	}

	q, err := New[int](depth)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, q.Close())
	})
	return q
}

func waitOne(t *testing.T, q *Queue[int]) *Completion[int] {
	t.Helper()

	for i := 0; i < 1000; i++ {
		completion, err := q.Wait()
		require.NoError(t, err)
		if completion != nil {
			return completion
		}
	}
	t.Fatal("no completion after 1000 interrupted waits")
	return nil
}

func testFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestInvalidQueueDepth(t *testing.T) {
	_, err := New[int](0)
	require.ErrorIs(t, err, ErrInvalidDepth)
}

func TestNoopBatch(t *testing.T) {
	q := newQueue(t, 5)

	for token := 1; token <= 5; token++ {
		_, err := q.Noop(token)
		require.NoError(t, err)
	}

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(5), submitted)

	reaped := make(map[int]int32)
	for i := 0; i < 5; i++ {
		completion := waitOne(t, q)
		reaped[completion.Token] = completion.Res
	}

	require.Equal(t, map[int]int32{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}, reaped)
	assert.Equal(t, 0, q.InFlight())
}

func TestSubmitDirty(t *testing.T) {
	q := newQueue(t, 5)

	assert.False(t, q.Dirty())
	submitted, err := q.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint(0), submitted)

	_, err = q.Noop(1)
	require.NoError(t, err)
	assert.True(t, q.Dirty())

	submitted, err = q.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint(1), submitted)
	assert.False(t, q.Dirty())

	submitted, err = q.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint(0), submitted)

	waitOne(t, q)
}

func TestBackpressure(t *testing.T) {
	q := newQueue(t, 1)

	_, err := q.Noop(1)
	require.NoError(t, err)

	_, err = q.Noop(2)
	require.ErrorIs(t, err, ErrBusy)

	_, err = q.Submit()
	require.NoError(t, err)
	completion := waitOne(t, q)
	require.Equal(t, 1, completion.Token)

	_, err = q.Noop(2)
	require.NoError(t, err)
	_, err = q.Submit()
	require.NoError(t, err)
	waitOne(t, q)
}

func TestOpenReadEmpty(t *testing.T) {
	q := newQueue(t, 5)

	_, err := q.Openat2(1, AccessRead, 0, 0, 0, AtFDCWD, "/dev/null")
	require.NoError(t, err)

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(1), submitted)

	completion := waitOne(t, q)
	require.Equal(t, 1, completion.Token)
	require.GreaterOrEqual(t, completion.Res, int32(0))

	fd := int(completion.Res)
	n, err := unix.Read(fd, make([]byte, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, unix.Close(fd))
}

func TestReadFixed(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open(testFile(t, "A test file"), unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	_, err = q.ReadFixed(7, fd, 3, 5, 2)
	require.NoError(t, err)

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(1), submitted)

	completion := waitOne(t, q)
	require.Equal(t, 7, completion.Token)
	require.Equal(t, int32(5), completion.Res)
	assert.Equal(t, []byte("test "), q.Buffer()[3:8])
}

func TestWriteFixed(t *testing.T) {
	q := newQueue(t, 5)

	path := filepath.Join(t.TempDir(), "out")
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	copy(q.Buffer(), "A test file")
	_, err = q.WriteFixed(7, fd, 2, 9, 0)
	require.NoError(t, err)

	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(9), completion.Res)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("test file"), contents)
}

func TestFixedRegion(t *testing.T) {
	q := newQueue(t, 5)

	_, err := q.ReadFixed(1, 0, -1, 5, 0)
	require.ErrorIs(t, err, ErrRegion)

	_, err = q.ReadFixed(1, 0, len(q.Buffer()), 1, 0)
	require.ErrorIs(t, err, ErrRegion)

	_, err = q.WriteFixed(1, 0, 0, len(q.Buffer())+1, 0)
	require.ErrorIs(t, err, ErrRegion)

	assert.Equal(t, 0, q.InFlight())
	assert.False(t, q.Dirty())
}

func TestReadv(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open(testFile(t, "A test file"), unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	bufs := [][]byte{make([]byte, 3), make([]byte, 7)}
	_, err = q.Readv(9, fd, bufs, 0)
	require.NoError(t, err)

	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, 9, completion.Token)
	require.Equal(t, int32(10), completion.Res)
	assert.Equal(t, []byte("A t"), bufs[0])
	assert.Equal(t, []byte("est fil"), bufs[1])
}

func TestWritev(t *testing.T) {
	q := newQueue(t, 5)

	path := filepath.Join(t.TempDir(), "out")
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	_, err = q.Writev(9, fd, [][]byte{[]byte("A t"), []byte("est fil"), []byte("e")}, 0)
	require.NoError(t, err)

	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(11), completion.Res)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("A test file"), contents)
}

func TestCancelBlockingRead(t *testing.T) {
	q := newQueue(t, 5)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fds[0]))
		assert.NoError(t, unix.Close(fds[1]))
	})

	read, err := q.ReadFixed(1, fds[0], 0, 1, CurrentPosition)
	require.NoError(t, err)

	_, err = q.Cancel(2, read)
	require.NoError(t, err)

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(2), submitted)

	results := make(map[int]int32)
	for i := 0; i < 2; i++ {
		completion := waitOne(t, q)
		results[completion.Token] = completion.Res
	}
	require.Len(t, results, 2)

	canceled := results[1] == -int32(unix.ECANCELED) && results[2] == 0
	interrupted := results[1] == -int32(unix.EINTR) && results[2] == -int32(unix.EALREADY)
	require.True(t, canceled || interrupted, "unexpected results: %v", results)
	assert.Equal(t, 0, q.InFlight())
}

func TestLateCancel(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open("/dev/zero", unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	read, err := q.ReadFixed(1, fd, 0, 1, 0)
	require.NoError(t, err)

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(1), submitted)

	// Give the read time to finish before the cancellation chases it.
	time.Sleep(10 * time.Millisecond)

	_, err = q.Cancel(2, read)
	require.NoError(t, err)

	submitted, err = q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(1), submitted)

	results := make(map[int]int32)
	for i := 0; i < 2; i++ {
		completion := waitOne(t, q)
		results[completion.Token] = completion.Res
	}

	assert.Equal(t, int32(1), results[1])
	assert.Equal(t, -int32(unix.ENOENT), results[2])
}

func TestCancelAfterReap(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open("/dev/zero", unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	read, err := q.ReadFixed(1, fd, 0, 1, 0)
	require.NoError(t, err)

	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(1), completion.Res)

	_, err = q.Cancel(2, read)
	require.ErrorIs(t, err, ErrStaleEntry)
	assert.False(t, q.Dirty())
	assert.Equal(t, 0, q.InFlight())
}

func TestResolveFlags(t *testing.T) {
	q := newQueue(t, 5)

	open := func(path string, resolve ResolveFlags) int32 {
		t.Helper()

		_, err := q.Openat2(1, AccessRead, 0, 0, resolve, AtFDCWD, path)
		require.NoError(t, err)
		_, err = q.Submit()
		require.NoError(t, err)
		return waitOne(t, q).Res
	}

	res := open(".", 0)
	require.GreaterOrEqual(t, res, int32(0))
	require.NoError(t, unix.Close(int(res)))

	res = open(".", ResolveBeneath)
	require.GreaterOrEqual(t, res, int32(0))
	require.NoError(t, unix.Close(int(res)))

	res = open("..", 0)
	require.GreaterOrEqual(t, res, int32(0))
	require.NoError(t, unix.Close(int(res)))

	res = open("..", ResolveBeneath)
	require.Equal(t, -int32(unix.EXDEV), res)
}

func TestOpenat2InvalidPath(t *testing.T) {
	q := newQueue(t, 5)

	_, err := q.Openat2(1, AccessRead, 0, 0, 0, AtFDCWD, "bad\x00path")
	require.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, 0, q.InFlight())
}

func TestCloseFD(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	require.NoError(t, err)

	_, err = q.CloseFD(1, fd)
	require.NoError(t, err)
	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(0), completion.Res)

	require.ErrorIs(t, unix.Close(fd), unix.EBADF)
}

func TestPollAdd(t *testing.T) {
	q := newQueue(t, 5)

	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fds[0]))
		assert.NoError(t, unix.Close(fds[1]))
	})

	_, err := q.PollAdd(1, fds[0], PollIn)
	require.NoError(t, err)
	_, err = q.Submit()
	require.NoError(t, err)

	_, err = unix.Write(fds[1], []byte{'x'})
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Greater(t, completion.Res, int32(0))
	assert.True(t, PollMask(completion.Res).Has(PollIn))
}

func TestSplice(t *testing.T) {
	q := newQueue(t, 5)

	src := make([]int, 2)
	dst := make([]int, 2)
	require.NoError(t, unix.Pipe(src))
	require.NoError(t, unix.Pipe(dst))
	t.Cleanup(func() {
		for _, fd := range []int{src[0], src[1], dst[0], dst[1]} {
			assert.NoError(t, unix.Close(fd))
		}
	})

	_, err := unix.Write(src[1], []byte("hello"))
	require.NoError(t, err)

	_, err = q.Splice(1, src[0], dst[1], 5)
	require.NoError(t, err)
	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(5), completion.Res)

	out := make([]byte, 5)
	n, err := unix.Read(dst[0], out)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out[:n])
}

func TestConnectAccept(t *testing.T) {
	q := newQueue(t, 5)

	path := filepath.Join(t.TempDir(), "sock")

	listenFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(listenFD, &unix.SockaddrUnix{Name: path}))
	require.NoError(t, unix.Listen(listenFD, 1))
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(listenFD))
	})

	clientFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(clientFD))
	})

	peer := NewSockaddrStorage()
	_, err = q.Accept(1, listenFD, peer)
	require.NoError(t, err)

	target, err := NewSockaddr(&unix.SockaddrUnix{Name: path})
	require.NoError(t, err)
	_, err = q.Connect(2, clientFD, target)
	require.NoError(t, err)

	submitted, err := q.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(2), submitted)

	results := make(map[int]int32)
	for i := 0; i < 2; i++ {
		completion := waitOne(t, q)
		results[completion.Token] = completion.Res
	}

	require.Equal(t, int32(0), results[2])
	require.GreaterOrEqual(t, results[1], int32(0))
	require.NoError(t, unix.Close(int(results[1])))
}

func TestWaitTimeout(t *testing.T) {
	q := newQueue(t, 5)

	start := time.Now()
	completion, err := q.WaitTimeout(50 * time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, completion)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPeekEmpty(t *testing.T) {
	q := newQueue(t, 5)

	completion, err := q.Peek()
	require.NoError(t, err)
	require.Nil(t, completion)
}

func TestSwapBuffer(t *testing.T) {
	q := newQueue(t, 5)

	replacement, err := buffer.NewFixed(DefaultBufferLength)
	require.NoError(t, err)

	old, err := q.SwapBuffer(replacement)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	fd, err := unix.Open(testFile(t, "A test file"), unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	_, err = q.ReadFixed(1, fd, 0, 11, 0)
	require.NoError(t, err)
	_, err = q.Submit()
	require.NoError(t, err)

	completion := waitOne(t, q)
	require.Equal(t, int32(11), completion.Res)
	assert.Equal(t, []byte("A test file"), q.Buffer()[:11])
}

func TestCloseIdempotent(t *testing.T) {
	if !IsAvailable() {
		t.Skip("io_uring is not available")
	}

	q, err := New[int](5)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Noop(1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = q.Submit()
	require.ErrorIs(t, err, ErrClosed)
	_, err = q.Peek()
	require.ErrorIs(t, err, ErrClosed)
}

func TestBufferLengthOption(t *testing.T) {
	if !IsAvailable() {
		t.Skip("io_uring is not available")
	}

	q, err := New[int](5, WithBufferLength(4096))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, q.Close())
	})

	assert.Equal(t, 4096, len(q.Buffer()))
}

func TestAllDrained(t *testing.T) {
	q := newQueue(t, 5)

	fd, err := unix.Open("/dev/zero", unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, unix.Close(fd))
	})

	for round := 0; round < 3; round++ {
		_, err = q.Noop(1)
		require.NoError(t, err)
		_, err = q.ReadFixed(2, fd, 0, 8, 0)
		require.NoError(t, err)
		bufs := [][]byte{make([]byte, 4)}
		_, err = q.Readv(3, fd, bufs, 0)
		require.NoError(t, err)

		submitted, err := q.Submit()
		require.NoError(t, err)
		require.Equal(t, uint(3), submitted)
		require.Equal(t, 3, q.InFlight())

		for i := 0; i < 3; i++ {
			waitOne(t, q)
		}
		require.Equal(t, 0, q.InFlight())
	}
}
