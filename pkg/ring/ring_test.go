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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func TestQueueInitNOP(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.QueueInit(2, 0))
	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})

	sqe := r.GetSQEntry()
	require.NotNil(t, sqe)
	sqe.PrepareNOP()
	sqe.UserData = 42

	submitted, err := r.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(1), submitted)

	cqe, err := r.WaitCQEvent()
	require.NoError(t, err)
	require.NotNil(t, cqe)
	assert.Equal(t, uint64(42), cqe.UserData)
	assert.Equal(t, int32(0), cqe.Res)
	r.CQESeen(cqe)
}

func TestGetSQEntryExhaustion(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.QueueInit(2, 0))
	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})

	require.NotNil(t, r.GetSQEntry())
	require.NotNil(t, r.GetSQEntry())
	require.Nil(t, r.GetSQEntry())

	submitted, err := r.Submit()
	require.NoError(t, err)
	require.Equal(t, uint(2), submitted)

	require.NotNil(t, r.GetSQEntry())
}

func TestPeekCQEventEmpty(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.QueueInit(2, 0))
	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})

	cqe, err := r.PeekCQEvent()
	require.ErrorIs(t, err, unix.EAGAIN)
	require.Nil(t, cqe)
}

func TestWaitCQEventTimeoutExpires(t *testing.T) {
	r := NewRing()
	require.NoError(t, r.QueueInit(2, 0))
	t.Cleanup(func() {
		assert.NoError(t, r.Close())
	})

	if r.Features&uint32(FeatureExtArg) == 0 {
		t.Skip("kernel does not support IORING_ENTER_EXT_ARG")
	}

	ts := Timespec{Nsec: int64(10_000_000)}
	cqe, err := r.WaitCQEventTimeout(&ts)
	require.ErrorIs(t, err, unix.ETIME)
	require.Nil(t, cqe)
}
