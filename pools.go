package docdb

import "sync"

// Scratch buffers for keys that do not outlive a single call: seek keys and
// group-key hashing. Keys handed to storage Put are never pooled.
var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

func acquireKeyBytes() []byte {
	return keyBytesPool.Get().([]byte)[:0]
}

func releaseKeyBytes(b []byte) {
	if cap(b) > 32768 {
		return
	}
	keyBytesPool.Put(b[:0])
}
