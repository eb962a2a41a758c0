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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed(t *testing.T) {
	buf, err := NewFixed(1024)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, buf.Close())
	})

	assert.Equal(t, pageSize, buf.Len())
	assert.Equal(t, buf.Len(), len(buf.Bytes()))

	b := buf.Bytes()
	copy(b[3:], "test")
	assert.Equal(t, []byte("test"), b[3:7])
}

func TestFixedPageRounding(t *testing.T) {
	buf, err := NewFixed(int64(pageSize) + 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, buf.Close())
	})

	assert.Equal(t, 2*pageSize, buf.Len())
}

func TestFixedInvalidSize(t *testing.T) {
	_, err := NewFixed(0)
	assert.Error(t, err)

	_, err = NewFixed(-1)
	assert.Error(t, err)
}
