// Package secure holds secret payloads in encrypted memory while they sit
// in the resolver cache. It wraps memguard enclaves: values are encrypted
// at rest in process memory and mlocked against swapping where the OS
// allows it.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer is an encrypted in-memory container for one secret payload.
// Safe for concurrent use.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	empty     bool
	destroyed bool
}

// NewBuffer seals data into a new protected buffer. The input slice is
// consumed by memguard and wiped; callers must not reuse it. A zero-length
// payload is kept as an explicit marker, since memguard has no enclave
// representation for it.
func NewBuffer(data []byte) *Buffer {
	if len(data) == 0 {
		return &Buffer{empty: true}
	}
	return &Buffer{enclave: memguard.NewEnclave(data)}
}

// Bytes decrypts the payload and returns a plaintext copy. The copy is the
// caller's to wipe; the sealed original stays protected. The second return
// reports whether the buffer is still live: after Destroy it is false, so
// callers can tell a wiped buffer apart from a legitimately empty payload.
func (b *Buffer) Bytes() ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, false, nil
	}
	if b.empty {
		return []byte{}, true, nil
	}

	locked, err := b.enclave.Open()
	if err != nil {
		return nil, true, err
	}
	defer locked.Destroy()

	out := make([]byte, len(locked.Bytes()))
	copy(out, locked.Bytes())
	return out, true, nil
}

// Destroy marks the buffer unusable. Idempotent. The enclave's encrypted
// backing is left to the collector; call memguard.Purge() at process exit
// for a full sweep.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.empty = false
	b.destroyed = true
}
