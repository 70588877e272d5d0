package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tejasvhi-Singh/Burrowspaceapp/internal/protocol"
)

func chunkOf(index, total int, data string) protocol.RelayChunk {
	return protocol.RelayChunk{SessionID: "s1", Chunk: []byte(data), Index: index, Total: total}
}

func TestAssemblerInOrder(t *testing.T) {
	a := NewAssembler(nil)

	done, err := a.Add(chunkOf(0, 2, "hello "))
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, a.Complete())

	done, err = a.Add(chunkOf(1, 2, "world"))
	require.NoError(t, err)
	assert.True(t, done)

	got, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestAssemblerOutOfOrderDelivery(t *testing.T) {
	var order []int
	var payload []byte
	a := NewAssembler(func(index int, data []byte) {
		order = append(order, index)
		payload = append(payload, data...)
	})

	done, err := a.Add(chunkOf(0, 3, "aa"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []int{0}, order)

	// Chunk 2 arrives before chunk 1 and must be held back.
	done, err = a.Add(chunkOf(2, 3, "cc"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []int{0}, order)

	done, err = a.Add(chunkOf(1, 3, "bb"))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, []byte("aabbcc"), payload)

	got, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAssemblerIgnoresDuplicates(t *testing.T) {
	delivered := 0
	a := NewAssembler(func(int, []byte) { delivered++ })

	_, err := a.Add(chunkOf(0, 2, "xx"))
	require.NoError(t, err)
	_, err = a.Add(chunkOf(0, 2, "yy"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	done, err := a.Add(chunkOf(1, 2, "zz"))
	require.NoError(t, err)
	assert.True(t, done)

	got, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("xxzz"), got)
}

func TestAssemblerAcceptsEmptyChunk(t *testing.T) {
	a := NewAssembler(nil)

	// A chunk that unmarshalled with no payload bytes still counts as
	// received and must not stall the prefix flush.
	done, err := a.Add(protocol.RelayChunk{SessionID: "s1", Chunk: nil, Index: 0, Total: 2})
	require.NoError(t, err)
	assert.False(t, done)

	done, err = a.Add(chunkOf(1, 2, "tail"))
	require.NoError(t, err)
	assert.True(t, done)

	got, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("tail"), got)
}

func TestAssemblerRejectsBadMetadata(t *testing.T) {
	a := NewAssembler(nil)

	_, err := a.Add(chunkOf(0, 0, "x"))
	assert.Error(t, err)

	_, err = a.Add(chunkOf(0, 2, "x"))
	require.NoError(t, err)

	_, err = a.Add(chunkOf(1, 3, "x"))
	assert.Error(t, err, "total must not change mid-stream")

	_, err = a.Add(chunkOf(2, 2, "x"))
	assert.Error(t, err, "index out of range")

	_, err = a.Add(chunkOf(-1, 2, "x"))
	assert.Error(t, err)
}

func TestAssemblerBytesBeforeComplete(t *testing.T) {
	a := NewAssembler(nil)
	_, err := a.Bytes()
	assert.Error(t, err)

	_, err = a.Add(chunkOf(1, 2, "x"))
	require.NoError(t, err)
	_, err = a.Bytes()
	assert.Error(t, err)
}

func TestAssemblerSingleChunk(t *testing.T) {
	a := NewAssembler(nil)
	done, err := a.Add(chunkOf(0, 1, "whole file"))
	require.NoError(t, err)
	assert.True(t, done)

	got, err := a.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("whole file"), got)
}
