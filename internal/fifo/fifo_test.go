package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFifoWriteRead(t *testing.T) {
	f := NewFifo(16)
	n := f.Write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, f.Occupied())

	buf := make([]byte, 3)
	n = f.Read(buf)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, buf)
	assert.Equal(t, 2, f.Occupied())
}

func TestFifoWriteStopsAtCapacity(t *testing.T) {
	f := NewFifo(4)
	n := f.Write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, f.Space())
}

func TestFifoReadEmpty(t *testing.T) {
	f := NewFifo(4)
	buf := make([]byte, 4)
	assert.Equal(t, 0, f.Read(buf))
}

func TestFifoReset(t *testing.T) {
	f := NewFifo(8)
	f.Write([]byte{1, 2, 3})
	f.Reset()
	assert.Equal(t, 0, f.Occupied())
	assert.Equal(t, 8, f.Space())
}

func TestFifoWrapsAround(t *testing.T) {
	f := NewFifo(4)
	f.Write([]byte{1, 2, 3, 4})
	out := make([]byte, 2)
	f.Read(out)
	n := f.Write([]byte{5, 6})
	assert.Equal(t, 2, n)

	rest := make([]byte, 4)
	got := f.Read(rest)
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte{3, 4, 5, 6}, rest)
}
