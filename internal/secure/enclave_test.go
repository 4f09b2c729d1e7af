package secure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("super-secret"))

	out, live, err := buf.Bytes()
	require.NoError(t, err)
	assert.True(t, live)
	assert.Equal(t, []byte("super-secret"), out)

	// Repeated opens return fresh copies.
	again, live, err := buf.Bytes()
	require.NoError(t, err)
	assert.True(t, live)
	assert.Equal(t, out, again)
}

func TestBufferEmptyPayload(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte{})

	out, live, err := buf.Bytes()
	require.NoError(t, err)
	assert.True(t, live)
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestBufferDestroy(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("gone"))
	buf.Destroy()

	out, live, err := buf.Bytes()
	require.NoError(t, err)
	assert.False(t, live)
	assert.Nil(t, out)

	// Idempotent.
	buf.Destroy()
}

func TestBufferDestroyEmptyPayload(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(nil)
	buf.Destroy()

	_, live, err := buf.Bytes()
	require.NoError(t, err)
	assert.False(t, live)
}

func TestBufferConcurrentReads(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("shared"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, live, err := buf.Bytes()
			assert.NoError(t, err)
			assert.True(t, live)
			assert.Equal(t, []byte("shared"), out)
		}()
	}
	wg.Wait()
}
