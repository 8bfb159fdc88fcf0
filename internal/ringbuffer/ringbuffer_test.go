package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWriteUnderCapacity(t *testing.T) {
	b := New(16)
	b.Write([]byte("hello"))
	assert.Equal(t, []byte("hello"), b.Bytes())
	assert.Equal(t, int64(0), b.Discarded())
}

func TestBufferEvictsOldestOnOverflow(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdefgh")) // exactly full
	b.Write([]byte("ij"))       // overflow by 2

	assert.Equal(t, []byte("cdefghij"), b.Bytes())
	assert.Equal(t, int64(2), b.Discarded())
}

func TestBufferTail(t *testing.T) {
	b := New(64)
	b.Write([]byte("0123456789"))

	assert.Equal(t, []byte("789"), b.Tail(3))
	assert.Equal(t, []byte("0123456789"), b.Tail(100))
}

func TestBufferConcurrentWrites(t *testing.T) {
	b := New(1 << 20)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Write([]byte("x"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}
